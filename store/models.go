package store

import (
	"fmt"
	"slices"
)

// Mode selects which media source a display slot rotates through.
type Mode string

const (
	// ModeRandomImage rotates through a single category folder (or the whole
	// library when the category is empty).
	ModeRandomImage Mode = "random_image"
	// ModeSpecificImage pins one file from the category folder.
	ModeSpecificImage Mode = "specific_image"
	// ModeMixed concatenates several folders into one rotation sequence.
	ModeMixed Mode = "mixed"
	// ModeNowPlaying shows album art for the currently playing track.
	ModeNowPlaying Mode = "now_playing"
)

// SlotConfig is the user-editable behavior for one display.
//
// Exactly one of Category, MixedFolders, or SpecificFile is active, selected
// by Mode. The inactive selectors keep their last values so switching modes
// back and forth never loses a prior selection.
type SlotConfig struct {
	Mode            Mode     `json:"mode"`
	IntervalSeconds int      `json:"interval_seconds"`
	Shuffle         bool     `json:"shuffle"`
	RotationDegrees int      `json:"rotation_degrees"`
	Category        string   `json:"category"`
	MixedFolders    []string `json:"mixed_folders"`
	SpecificFile    string   `json:"specific_file"`
}

// DefaultSlotConfig is assigned to a display the first time it is detected.
func DefaultSlotConfig(interval int) SlotConfig {
	return SlotConfig{
		Mode:            ModeRandomImage,
		IntervalSeconds: interval,
		Shuffle:         false,
		RotationDegrees: 0,
		MixedFolders:    []string{},
	}
}

// Validate checks the structural invariants of a slot config. Selector
// existence (folder/file on disk) is checked separately by the catalog.
func (c SlotConfig) Validate() error {
	switch c.Mode {
	case ModeRandomImage, ModeSpecificImage, ModeMixed, ModeNowPlaying:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	// SpecificImage holds a single frame; its interval is ignored.
	if c.Mode != ModeSpecificImage && c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}

	switch c.RotationDegrees {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation_degrees must be one of 0, 90, 180, 270, got %d", c.RotationDegrees)
	}

	if c.Mode == ModeSpecificImage && c.SpecificFile == "" {
		return fmt.Errorf("specific_file is required for mode %q", c.Mode)
	}

	if c.Mode == ModeMixed {
		if len(c.MixedFolders) == 0 {
			return fmt.Errorf("mixed_folders is required for mode %q", c.Mode)
		}
		for i, folder := range c.MixedFolders {
			if folder == "" {
				return fmt.Errorf("mixed_folders[%d] is empty", i)
			}
			if slices.Index(c.MixedFolders, folder) != i {
				return fmt.Errorf("mixed_folders contains duplicate folder %q", folder)
			}
		}
	}

	return nil
}

// Clone returns a deep copy so callers can hold a config without sharing the
// mixed folders slice.
func (c SlotConfig) Clone() SlotConfig {
	out := c
	out.MixedFolders = slices.Clone(c.MixedFolders)
	return out
}

// Equal reports whether two slot configs are identical.
func (c SlotConfig) Equal(other SlotConfig) bool {
	return c.Mode == other.Mode &&
		c.IntervalSeconds == other.IntervalSeconds &&
		c.Shuffle == other.Shuffle &&
		c.RotationDegrees == other.RotationDegrees &&
		c.Category == other.Category &&
		c.SpecificFile == other.SpecificFile &&
		slices.Equal(c.MixedFolders, other.MixedFolders)
}

// Role identifies whether this device coordinates others or is coordinated.
type Role string

const (
	RoleMain Role = "main"
	RoleSub  Role = "sub"
)

// DeviceSettings is the singleton device role row.
type DeviceSettings struct {
	Role     Role   `json:"role"`
	MainAddr string `json:"main_addr"`
}

// Peer is a named sub device managed by a main device.
type Peer struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// DeviceConfig is the full durable configuration of one device: its role and
// every display slot keyed by display name. This is also the payload
// exchanged with peers over /sync_config and /update_config.
type DeviceConfig struct {
	Role     Role                  `json:"role"`
	MainAddr string                `json:"main_addr,omitempty"`
	Displays map[string]SlotConfig `json:"displays"`
}
