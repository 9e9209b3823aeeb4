package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tpersp/piviewer/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("PIVIEWER_HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp home")
	}
	if resolved != filepath.Join(tempHome, "piviewer.toml") {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.ImageDir != filepath.Join(tempHome, "uploads") {
		t.Fatalf("unexpected image dir: %q", cfg.Paths.ImageDir)
	}
	if cfg.Paths.ListenBind != "0.0.0.0:8080" {
		t.Fatalf("unexpected listen bind: %q", cfg.Paths.ListenBind)
	}
	if cfg.Viewer.DefaultInterval != 60 {
		t.Fatalf("unexpected default interval: %d", cfg.Viewer.DefaultInterval)
	}
	if cfg.Peers.RequestTimeoutSeconds != 5 {
		t.Fatalf("unexpected peer timeout: %d", cfg.Peers.RequestTimeoutSeconds)
	}
	if cfg.MediaSync.Enabled {
		t.Fatal("expected media sync disabled by default")
	}
	if cfg.NowPlaying.Enabled {
		t.Fatal("expected now playing disabled by default")
	}
}

func TestLoadParsesFileAndOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("PIVIEWER_HOME", tempHome)

	path := filepath.Join(tempHome, "piviewer.toml")
	content := `
[paths]
listen_bind = "127.0.0.1:9090"

[viewer]
default_interval = 30

[now_playing]
enabled = true
player = "spotify"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Paths.ListenBind != "127.0.0.1:9090" {
		t.Fatalf("unexpected listen bind: %q", cfg.Paths.ListenBind)
	}
	if cfg.Viewer.DefaultInterval != 30 {
		t.Fatalf("unexpected default interval: %d", cfg.Viewer.DefaultInterval)
	}
	if !cfg.NowPlaying.Enabled || cfg.NowPlaying.Player != "spotify" {
		t.Fatalf("unexpected now playing config: %+v", cfg.NowPlaying)
	}
	// untouched sections keep their defaults
	if cfg.Paths.ImageDir != filepath.Join(tempHome, "uploads") {
		t.Fatalf("unexpected image dir: %q", cfg.Paths.ImageDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "non-positive interval",
			content: "[viewer]\ndefault_interval = 0\n",
		},
		{
			name:    "non-positive peer timeout",
			content: "[peers]\nrequest_timeout_seconds = -1\n",
		},
		{
			name:    "media sync without bucket",
			content: "[media_sync]\nenabled = true\naws_profile = \"frame\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempHome := t.TempDir()
			t.Setenv("PIVIEWER_HOME", tempHome)
			path := filepath.Join(tempHome, "piviewer.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, _, err := config.Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
