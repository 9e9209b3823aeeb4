// Package config loads the static application configuration from a TOML file.
// Runtime-editable state (device role, per-display configs, peer topology)
// lives in the sqlite store instead.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const defaultHome = "/home/pi/PiViewer"

// Paths contains directory, file, and bind address configuration.
type Paths struct {
	Home       string `toml:"home"`
	ImageDir   string `toml:"image_dir"`
	ConfigDB   string `toml:"config_db"`
	LockFile   string `toml:"lock_file"`
	ListenBind string `toml:"listen_bind"`
}

// Viewer contains playback configuration shared by all display slots.
type Viewer struct {
	MpvBinary       string `toml:"mpv_binary"`
	SocketDir       string `toml:"socket_dir"`
	DefaultInterval int    `toml:"default_interval"`
}

// Peers contains configuration for talking to sub devices.
type Peers struct {
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	StaleAfterMinutes     int `toml:"stale_after_minutes"`
}

// MediaSync contains configuration for mirroring an S3 bucket into a
// library folder.
type MediaSync struct {
	Enabled         bool   `toml:"enabled"`
	AWSProfile      string `toml:"aws_profile"`
	S3Bucket        string `toml:"s3_bucket"`
	Folder          string `toml:"folder"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

// NowPlaying contains configuration for the MPRIS album art feed.
type NowPlaying struct {
	Enabled bool   `toml:"enabled"`
	Player  string `toml:"player"`
}

// Config is the full application configuration.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Viewer     Viewer     `toml:"viewer"`
	Peers      Peers      `toml:"peers"`
	MediaSync  MediaSync  `toml:"media_sync"`
	NowPlaying NowPlaying `toml:"now_playing"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	home := os.Getenv("PIVIEWER_HOME")
	if home == "" {
		home = defaultHome
	}
	return Config{
		Paths: Paths{
			Home:       home,
			ImageDir:   filepath.Join(home, "uploads"),
			ConfigDB:   filepath.Join(home, "piviewer.db"),
			LockFile:   filepath.Join(home, "piviewer.lock"),
			ListenBind: "0.0.0.0:8080",
		},
		Viewer: Viewer{
			MpvBinary:       "/usr/bin/mpv",
			SocketDir:       "/tmp",
			DefaultInterval: 60,
		},
		Peers: Peers{
			RequestTimeoutSeconds: 5,
			StaleAfterMinutes:     15,
		},
		MediaSync: MediaSync{
			Folder:          "surprise",
			IntervalMinutes: 60,
		},
		NowPlaying: NowPlaying{},
	}
}

// Load reads the configuration at path, falling back to
// $PIVIEWER_HOME/piviewer.toml when path is empty. It returns the parsed
// config, the resolved path, and whether the file existed. A missing file is
// not an error; defaults are returned.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.Paths.Home, "piviewer.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, path, false, nil
		}
		return nil, path, false, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, path, true, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, path, true, err
	}

	return &cfg, path, true, nil
}

func validate(cfg *Config) error {
	if cfg.Viewer.DefaultInterval <= 0 {
		return fmt.Errorf("viewer.default_interval must be positive, got %d", cfg.Viewer.DefaultInterval)
	}
	if cfg.Peers.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("peers.request_timeout_seconds must be positive, got %d", cfg.Peers.RequestTimeoutSeconds)
	}
	if cfg.Peers.StaleAfterMinutes <= 0 {
		return fmt.Errorf("peers.stale_after_minutes must be positive, got %d", cfg.Peers.StaleAfterMinutes)
	}
	if cfg.MediaSync.Enabled {
		if cfg.MediaSync.AWSProfile == "" {
			return errors.New("media_sync.aws_profile is required when media sync is enabled")
		}
		if cfg.MediaSync.S3Bucket == "" {
			return errors.New("media_sync.s3_bucket is required when media sync is enabled")
		}
	}
	return nil
}
