// Package display detects the physical monitors attached to this device
// using xrandr, with a framebuffer fallback for headless Pi setups.
package display

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Handle identifies one physical monitor for a session. Handles are detected
// once at process start and never mutated afterwards.
type Handle struct {
	Name       string `json:"name"`
	Resolution string `json:"resolution"`
	Index      int    `json:"index"`
}

// Detect lists the connected monitors via `xrandr --listmonitors`. When
// xrandr is unavailable or reports nothing, it falls back to the framebuffer
// display FB1 if /dev/fb1 exists, or a single Display0 handle otherwise.
func Detect() []Handle {
	out, err := exec.Command("xrandr", "--listmonitors").Output()
	if err != nil {
		return fallbackHandles()
	}

	handles := ParseListMonitors(string(out))
	if len(handles) == 0 {
		return fallbackHandles()
	}
	return handles
}

func fallbackHandles() []Handle {
	if _, err := os.Stat("/dev/fb1"); err == nil {
		return []Handle{{Name: "FB1", Resolution: "480x320", Index: 0}}
	}
	return []Handle{{Name: "Display0", Resolution: "unknown", Index: 0}}
}

// ParseListMonitors parses `xrandr --listmonitors` output. Lines look like:
//
//	Monitors: 2
//	 0: +*HDMI-1 1920/444x1080/249+0+0  HDMI-1
//	 1: +HDMI-2 1280/410x1024/257+1920+0  HDMI-2
func ParseListMonitors(out string) []Handle {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}

	var handles []Handle
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		name := strings.Trim(parts[len(parts)-1], "+*")
		if name == "" {
			continue
		}

		resolution := "unknown"
		for _, p := range parts {
			if res, ok := parseGeometry(p); ok {
				resolution = res
				break
			}
		}

		handles = append(handles, Handle{
			Name:       name,
			Resolution: resolution,
			Index:      len(handles),
		})
	}
	return handles
}

// parseGeometry extracts "WxH" from a geometry token like
// "1920/444x1080/249+0+0".
func parseGeometry(token string) (string, bool) {
	if !strings.Contains(token, "x") || !strings.Contains(token, "+") {
		return "", false
	}
	left, right, ok := strings.Cut(token, "x")
	if !ok {
		return "", false
	}
	width, _, _ := strings.Cut(left, "/")
	heightPart, _, ok := strings.Cut(right, "+")
	if !ok {
		return "", false
	}
	height, _, _ := strings.Cut(heightPart, "/")
	if width == "" || height == "" {
		return "", false
	}
	for _, s := range []string{width, height} {
		for _, r := range s {
			if r < '0' || r > '9' {
				return "", false
			}
		}
	}
	return fmt.Sprintf("%sx%s", width, height), true
}
