// Package rotation owns one independent rotation state machine per detected
// monitor and serializes configuration changes against in-flight advances.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tpersp/piviewer/catalog"
	"github.com/tpersp/piviewer/display"
	"github.com/tpersp/piviewer/store"
)

// ApplyResult reports the outcome of a batch reconfiguration. Partial
// application is expected: one malformed slot never blocks the rest.
type ApplyResult struct {
	Applied []string          `json:"applied"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// OK reports whether every slot in the batch applied cleanly.
func (r *ApplyResult) OK() bool {
	return len(r.Failed) == 0
}

// Scheduler owns the full set of display slots. It is the single entry point
// for configuration mutation, so the store and in-memory slot state never
// diverge.
type Scheduler struct {
	db      *store.Database
	handles []display.Handle
	slots   map[string]*Slot
}

// NewScheduler builds one slot per detected monitor, reconciling the stored
// configs against the handles: new monitors get the default config, and
// configs for monitors that disappeared across a restart are pruned.
func NewScheduler(
	db *store.Database,
	resolver *catalog.Resolver,
	feed catalog.Feed,
	renderer Renderer,
	handles []display.Handle,
	defaultInterval int,
) (*Scheduler, error) {
	stored, err := db.GetAllSlotConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load display configs: %w", err)
	}

	s := &Scheduler{
		db:      db,
		handles: handles,
		slots:   make(map[string]*Slot, len(handles)),
	}

	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		seen[h.Name] = true
		cfg, ok := stored[h.Name]
		if !ok {
			cfg = store.DefaultSlotConfig(defaultInterval)
			if err := db.UpsertSlotConfig(h.Name, cfg); err != nil {
				return nil, fmt.Errorf("failed to store default config for %q: %w", h.Name, err)
			}
			slog.Info("new display detected, using default config", "display", h.Name, "resolution", h.Resolution)
		}
		s.slots[h.Name] = newSlot(h, cfg, resolver, feed, renderer)
	}

	for name := range stored {
		if seen[name] {
			continue
		}
		if err := db.DeleteSlotConfig(name); err != nil {
			slog.Warn("unable to prune config for vanished display", "display", name, "error", err)
			continue
		}
		slog.Info("pruned config for vanished display", "display", name)
	}

	return s, nil
}

// Start launches one timer-driven goroutine per slot. Slots advance
// concurrently with each other but strictly serially within themselves.
func (s *Scheduler) Start(ctx context.Context) {
	for _, slot := range s.slots {
		go slot.Run(ctx)
	}
}

// Handles returns the detected monitors in their stable order.
func (s *Scheduler) Handles() []display.Handle {
	return s.handles
}

// ApplyConfig validates and applies a new config to one slot, then persists
// it. A persistence failure leaves the in-memory state as the source of truth
// and is surfaced to the caller.
func (s *Scheduler) ApplyConfig(ctx context.Context, displayName string, cfg store.SlotConfig) error {
	slot, ok := s.slots[displayName]
	if !ok {
		return fmt.Errorf("unknown display %q", displayName)
	}
	if err := slot.Apply(ctx, cfg); err != nil {
		return err
	}
	if err := s.db.UpsertSlotConfig(displayName, cfg); err != nil {
		slog.Error("config applied but not persisted", "display", displayName, "error", err)
		return fmt.Errorf("config applied but not persisted: %w", err)
	}
	return nil
}

// ReconfigureAll applies a batch of configs, one slot at a time in name
// order. Valid entries are applied even when others fail; the result names
// exactly which slots were rejected and why.
func (s *Scheduler) ReconfigureAll(ctx context.Context, configs map[string]store.SlotConfig) *ApplyResult {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &ApplyResult{Failed: make(map[string]string)}
	for _, name := range names {
		if err := s.ApplyConfig(ctx, name, configs[name]); err != nil {
			result.Failed[name] = err.Error()
			continue
		}
		result.Applied = append(result.Applied, name)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result
}

// Snapshot returns the current config and runtime state of every slot, keyed
// by display name. Read-only; never blocks on in-flight advances.
func (s *Scheduler) Snapshot() map[string]SlotStatus {
	out := make(map[string]SlotStatus, len(s.slots))
	for name, slot := range s.slots {
		out[name] = slot.Status()
	}
	return out
}

// RefreshCatalog invalidates every cached sequence that references the given
// folder, e.g. after a media upload or deletion. An empty folder name
// invalidates all filesystem-backed slots.
func (s *Scheduler) RefreshCatalog(folder string) {
	for _, slot := range s.slots {
		slot.Refresh(folder)
	}
}
