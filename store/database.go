// Package store is the sqlite database for display slot configs, device
// role, and peer topology
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{db: db}

	if err := database.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return database, nil
}

func (d *Database) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS display_configs (
		display_name     TEXT NOT NULL,
		mode             TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		shuffle          INTEGER NOT NULL,
		rotation_degrees INTEGER NOT NULL,
		category         TEXT NOT NULL,
		mixed_folders    TEXT NOT NULL,
		specific_file    TEXT NOT NULL,
		PRIMARY KEY (display_name)
	);
	CREATE TABLE IF NOT EXISTS device_settings (
		singleton INTEGER NOT NULL DEFAULT 1 CHECK (singleton = 1),
		role      TEXT NOT NULL,
		main_addr TEXT NOT NULL,
		PRIMARY KEY (singleton)
	);
	CREATE TABLE IF NOT EXISTS peer_devices (
		name TEXT NOT NULL,
		addr TEXT NOT NULL,
		PRIMARY KEY (name)
	);
	`
	_, err := d.db.Exec(query)
	return err
}

// GetSlotConfig returns the config for one display, or sql.ErrNoRows wrapped
// if none exists.
func (d *Database) GetSlotConfig(displayName string) (*SlotConfig, error) {
	const query = `
		SELECT mode, interval_seconds, shuffle, rotation_degrees, category, mixed_folders, specific_file
		FROM display_configs
		WHERE display_name = ?
	`
	var cfg SlotConfig
	var shuffleInt int
	var mixedJSON string
	err := d.db.QueryRow(query, displayName).Scan(
		&cfg.Mode,
		&cfg.IntervalSeconds,
		&shuffleInt,
		&cfg.RotationDegrees,
		&cfg.Category,
		&mixedJSON,
		&cfg.SpecificFile,
	)
	if err != nil {
		return nil, fmt.Errorf("get slot config for %q: %w", displayName, err)
	}
	cfg.Shuffle = shuffleInt != 0
	if err := json.Unmarshal([]byte(mixedJSON), &cfg.MixedFolders); err != nil {
		return nil, fmt.Errorf("decode mixed_folders for %q: %w", displayName, err)
	}
	return &cfg, nil
}

// GetAllSlotConfigs returns every stored display config keyed by display name.
func (d *Database) GetAllSlotConfigs() (map[string]SlotConfig, error) {
	const query = `
		SELECT display_name, mode, interval_seconds, shuffle, rotation_degrees, category, mixed_folders, specific_file
		FROM display_configs
		ORDER BY display_name ASC
	`
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query display configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]SlotConfig)
	for rows.Next() {
		var name string
		var cfg SlotConfig
		var shuffleInt int
		var mixedJSON string
		if err := rows.Scan(
			&name,
			&cfg.Mode,
			&cfg.IntervalSeconds,
			&shuffleInt,
			&cfg.RotationDegrees,
			&cfg.Category,
			&mixedJSON,
			&cfg.SpecificFile,
		); err != nil {
			return nil, fmt.Errorf("failed to scan display config: %w", err)
		}
		cfg.Shuffle = shuffleInt != 0
		if err := json.Unmarshal([]byte(mixedJSON), &cfg.MixedFolders); err != nil {
			return nil, fmt.Errorf("decode mixed_folders for %q: %w", name, err)
		}
		configs[name] = cfg
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return configs, nil
}

// UpsertSlotConfig stores the config for one display.
func (d *Database) UpsertSlotConfig(displayName string, cfg SlotConfig) error {
	mixed := cfg.MixedFolders
	if mixed == nil {
		mixed = []string{}
	}
	mixedJSON, err := json.Marshal(mixed)
	if err != nil {
		return fmt.Errorf("encode mixed_folders for %q: %w", displayName, err)
	}

	const stmt = `
		INSERT INTO display_configs (
			display_name,
			mode,
			interval_seconds,
			shuffle,
			rotation_degrees,
			category,
			mixed_folders,
			specific_file
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(display_name) DO UPDATE SET
			mode             = excluded.mode,
			interval_seconds = excluded.interval_seconds,
			shuffle          = excluded.shuffle,
			rotation_degrees = excluded.rotation_degrees,
			category         = excluded.category,
			mixed_folders    = excluded.mixed_folders,
			specific_file    = excluded.specific_file
	`
	_, err = d.db.Exec(
		stmt,
		displayName,
		string(cfg.Mode),
		cfg.IntervalSeconds,
		boolToInt(cfg.Shuffle),
		cfg.RotationDegrees,
		cfg.Category,
		string(mixedJSON),
		cfg.SpecificFile,
	)
	if err != nil {
		return fmt.Errorf("upsert slot config for %q: %w", displayName, err)
	}
	return nil
}

// DeleteSlotConfig removes a display config, typically after the monitor
// disappeared across a restart.
func (d *Database) DeleteSlotConfig(displayName string) error {
	const stmt = `DELETE FROM display_configs WHERE display_name = ?`
	if _, err := d.db.Exec(stmt, displayName); err != nil {
		return fmt.Errorf("delete slot config for %q: %w", displayName, err)
	}
	return nil
}

// GetDeviceSettings returns the device role row, bootstrapping a main-role
// default if none exists yet.
func (d *Database) GetDeviceSettings() (*DeviceSettings, error) {
	const query = `
		SELECT role, main_addr
		FROM device_settings
		WHERE singleton = 1
	`
	var settings DeviceSettings
	err := d.db.QueryRow(query).Scan(&settings.Role, &settings.MainAddr)
	if err == sql.ErrNoRows {
		defaults := &DeviceSettings{Role: RoleMain}
		if err := d.UpsertDeviceSettings(defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device settings: %w", err)
	}
	return &settings, nil
}

func (d *Database) UpsertDeviceSettings(s *DeviceSettings) error {
	const stmt = `
		INSERT INTO device_settings (
			singleton,
			role,
			main_addr
		) VALUES (1, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			role      = excluded.role,
			main_addr = excluded.main_addr
	`
	if _, err := d.db.Exec(stmt, string(s.Role), s.MainAddr); err != nil {
		return fmt.Errorf("upsert device settings: %w", err)
	}
	return nil
}

// GetPeers lists the sub devices this device coordinates, name order.
func (d *Database) GetPeers() ([]Peer, error) {
	const query = `SELECT name, addr FROM peer_devices ORDER BY name ASC`
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query peer devices: %w", err)
	}
	defer rows.Close()

	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.Name, &p.Addr); err != nil {
			return nil, fmt.Errorf("failed to scan peer device: %w", err)
		}
		peers = append(peers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return peers, nil
}

func (d *Database) AddPeer(p Peer) error {
	const stmt = `INSERT INTO peer_devices (name, addr) VALUES (?, ?)`
	if _, err := d.db.Exec(stmt, p.Name, p.Addr); err != nil {
		return fmt.Errorf("add peer %q: %w", p.Name, err)
	}
	return nil
}

func (d *Database) RemovePeer(name string) error {
	const stmt = `DELETE FROM peer_devices WHERE name = ?`
	result, err := d.db.Exec(stmt, name)
	if err != nil {
		return fmt.Errorf("remove peer %q: %w", name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("peer not found: %s", name)
	}
	return nil
}

// LoadDeviceConfig assembles the full durable configuration of this device.
func (d *Database) LoadDeviceConfig() (*DeviceConfig, error) {
	settings, err := d.GetDeviceSettings()
	if err != nil {
		return nil, err
	}
	displays, err := d.GetAllSlotConfigs()
	if err != nil {
		return nil, err
	}
	return &DeviceConfig{
		Role:     settings.Role,
		MainAddr: settings.MainAddr,
		Displays: displays,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (d *Database) Close() error {
	return d.db.Close()
}
