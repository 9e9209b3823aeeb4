// Package nowplaying fetches album art for the currently playing track from
// any MPRIS-capable media player on the session D-Bus.
package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

const (
	mprisPrefix   = "org.mpris.MediaPlayer2."
	mprisPath     = "/org/mpris/MediaPlayer2"
	metadataProp  = "org.mpris.MediaPlayer2.Player.Metadata"
	artFetchLimit = 10 * time.Second
)

var (
	// ErrNoPlayer means no MPRIS media player is running on the session bus.
	ErrNoPlayer = errors.New("no media player on the session bus")
	// ErrNoArtwork means the current track carries no album art URL.
	ErrNoArtwork = errors.New("no album art for current track")
)

// Feed resolves the current track's album art to a local file path. It
// implements the catalog.Feed contract consumed by now-playing slots.
type Feed struct {
	conn   *dbus.Conn
	player string
	client *http.Client
	artDir string

	mu       sync.Mutex
	lastURL  string
	lastPath string
}

// New connects to the session bus. player optionally pins a specific bus
// name suffix (e.g. "spotify"); when empty the first MPRIS player wins.
func New(player string) (*Feed, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Feed{
		conn:   conn,
		player: player,
		client: &http.Client{Timeout: artFetchLimit},
		artDir: os.TempDir(),
	}, nil
}

func (f *Feed) Close() error {
	return f.conn.Close()
}

// Current returns a local path to the artwork of the currently playing
// track, downloading remote art to a temp file. Repeated calls for the same
// track reuse the previous download.
func (f *Feed) Current(ctx context.Context) (string, error) {
	name, err := f.findPlayer()
	if err != nil {
		return "", err
	}

	obj := f.conn.Object(name, dbus.ObjectPath(mprisPath))
	prop, err := obj.GetProperty(metadataProp)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata from %s: %w", name, err)
	}

	metadata, ok := prop.Value().(map[string]dbus.Variant)
	if !ok {
		return "", fmt.Errorf("unexpected metadata shape from %s", name)
	}

	artVariant, ok := metadata["mpris:artUrl"]
	if !ok {
		return "", ErrNoArtwork
	}
	artURL, ok := artVariant.Value().(string)
	if !ok || artURL == "" {
		return "", ErrNoArtwork
	}

	if strings.HasPrefix(artURL, "file://") {
		return strings.TrimPrefix(artURL, "file://"), nil
	}
	return f.fetchArt(ctx, artURL)
}

func (f *Feed) findPlayer() (string, error) {
	var names []string
	if err := f.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return "", fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		if f.player != "" && !strings.Contains(strings.TrimPrefix(name, mprisPrefix), f.player) {
			continue
		}
		return name, nil
	}
	return "", ErrNoPlayer
}

// fetchArt downloads remote album art to a temp file, reusing the previous
// download while the track (and therefore the art URL) is unchanged.
func (f *Feed) fetchArt(ctx context.Context, artURL string) (string, error) {
	f.mu.Lock()
	if artURL == f.lastURL && f.lastPath != "" {
		path := f.lastPath
		f.mu.Unlock()
		return path, nil
	}
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create art request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download album art: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("album art download returned status %d", resp.StatusCode)
	}

	path := filepath.Join(f.artDir, "piviewer_art_"+uuid.NewString()+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create art file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write art file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close art file: %w", err)
	}

	f.mu.Lock()
	if f.lastPath != "" {
		if err := os.Remove(f.lastPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("unable to remove previous art file", "path", f.lastPath, "error", err)
		}
	}
	f.lastURL = artURL
	f.lastPath = path
	f.mu.Unlock()

	return path, nil
}
