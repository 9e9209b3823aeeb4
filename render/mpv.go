// Package render drives one fullscreen mpv process per monitor and sends it
// media over its JSON IPC socket.
package render

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/tpersp/piviewer/display"
)

// Manager owns the mpv processes. Render calls are fire-and-forget: a failed
// IPC write is reported to the caller and otherwise dropped.
type Manager struct {
	binary    string
	socketDir string

	procs map[string]*exec.Cmd
}

func NewManager(binary, socketDir string) *Manager {
	return &Manager{
		binary:    binary,
		socketDir: socketDir,
		procs:     make(map[string]*exec.Cmd),
	}
}

func (m *Manager) socketPath(displayName string) string {
	return filepath.Join(m.socketDir, fmt.Sprintf("mpv_%s.sock", displayName))
}

// Launch starts one idle mpv per handle, pinned to that monitor's screen
// index, each listening on its own IPC socket.
func (m *Manager) Launch(handles []display.Handle) error {
	for _, h := range handles {
		args := []string{
			"--idle",
			"--fullscreen",
			"--no-terminal",
			"--quiet",
			"--force-window=yes",
			"--keep-open=yes",
			"--vo=gpu",
			"--loop-file=inf",
			"--screen=" + strconv.Itoa(h.Index),
			"--input-ipc-server=" + m.socketPath(h.Name),
		}
		cmd := exec.Command(m.binary, args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start mpv for %s: %w", h.Name, err)
		}
		m.procs[h.Name] = cmd
		slog.Info("started mpv", "display", h.Name, "screen", h.Index, "socket", m.socketPath(h.Name))
	}
	return nil
}

// Stop terminates every mpv process.
func (m *Manager) Stop() {
	for name, cmd := range m.procs {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil {
			slog.Warn("unable to kill mpv", "display", name, "error", err)
		}
	}
}

// Render loads the media item on the monitor's mpv instance and applies the
// configured rotation. Images loop indefinitely until the next loadfile.
func (m *Manager) Render(handle display.Handle, path string, rotationDegrees int) error {
	sock := m.socketPath(handle.Name)
	if err := m.command(sock, "loadfile", path, "replace"); err != nil {
		return fmt.Errorf("loadfile on %s: %w", handle.Name, err)
	}
	if err := m.command(sock, "set_property", "video-rotate", rotationDegrees); err != nil {
		return fmt.Errorf("set rotation on %s: %w", handle.Name, err)
	}
	if err := m.command(sock, "set_property", "loop-file", "inf"); err != nil {
		return fmt.Errorf("set loop on %s: %w", handle.Name, err)
	}
	return nil
}

// command writes a single JSON IPC command to the mpv socket.
func (m *Manager) command(sock string, cmd ...any) error {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("failed to connect to mpv socket %s: %w", sock, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]any{"command": cmd})
	if err != nil {
		return fmt.Errorf("failed to marshal mpv command: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write mpv command: %w", err)
	}
	return nil
}
