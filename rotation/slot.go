package rotation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tpersp/piviewer/catalog"
	"github.com/tpersp/piviewer/display"
	"github.com/tpersp/piviewer/store"
)

// Renderer displays one media item on one monitor. Errors are logged by the
// slot and never retried; the next scheduled advance proceeds normally.
type Renderer interface {
	Render(handle display.Handle, path string, rotationDegrees int) error
}

// State is the playback state of a slot.
type State string

const (
	// StateIdle means the slot has no resolved media and no pending timer.
	StateIdle State = "idle"
	// StatePlaying means the slot has rendered media and keeps advancing.
	StatePlaying State = "playing"
)

// SlotStatus is a read-only snapshot of one slot for status displays.
type SlotStatus struct {
	Handle       display.Handle   `json:"handle"`
	Config       store.SlotConfig `json:"config"`
	State        State            `json:"state"`
	Position     int              `json:"position"`
	SequenceLen  int              `json:"sequence_len"`
	CurrentItem  string           `json:"current_item"`
	CurrentSince time.Time        `json:"current_since"`
	LastError    string           `json:"last_error"`
}

type applyRequest struct {
	cfg   store.SlotConfig
	reply chan error
}

// Slot owns the rotation state of one monitor. All mutation happens inside
// Run's select loop, so an apply can never interleave with an in-flight
// advance on the same slot; slots for different monitors run independently.
type Slot struct {
	handle   display.Handle
	resolver *catalog.Resolver
	feed     catalog.Feed
	renderer Renderer

	rng *rand.Rand

	// owned by the Run goroutine
	cfg       store.SlotConfig
	seq       catalog.Sequence
	seqValid  bool
	pos       int
	scheduled bool

	applyCh   chan applyRequest
	refreshCh chan string

	statusMu sync.Mutex
	status   SlotStatus
}

func newSlot(handle display.Handle, cfg store.SlotConfig, resolver *catalog.Resolver, feed catalog.Feed, renderer Renderer) *Slot {
	return &Slot{
		handle:    handle,
		resolver:  resolver,
		feed:      feed,
		renderer:  renderer,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(handle.Index))),
		cfg:       cfg.Clone(),
		applyCh:   make(chan applyRequest),
		refreshCh: make(chan string, 8),
		status: SlotStatus{
			Handle: handle,
			Config: cfg.Clone(),
			State:  StateIdle,
		},
	}
}

// Run drives the slot until ctx is cancelled. The timer is armed per slot
// from its own last advance or reconfiguration; slots are deliberately never
// synchronized to a shared epoch.
func (s *Slot) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	s.scheduled = true

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-s.applyCh:
			rearmFull, err := s.apply(req.cfg)
			req.reply <- err
			if err != nil {
				break
			}
			if !s.scheduled {
				// reconfiguring an idle slot revives it right away
				s.arm(timer, 0)
			} else if rearmFull {
				// a mode or interval change cancels the pending tick and
				// starts a fresh full interval
				s.arm(timer, s.interval())
			}

		case folder := <-s.refreshCh:
			if !s.referencesFolder(folder) {
				break
			}
			s.seqValid = false
			if !s.scheduled {
				s.arm(timer, 0)
			}

		case <-timer.C:
			s.scheduled = false
			if s.advance(ctx) {
				s.arm(timer, s.interval())
			}
		}
	}
}

func (s *Slot) arm(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
	s.scheduled = true
}

func (s *Slot) interval() time.Duration {
	return time.Duration(s.cfg.IntervalSeconds) * time.Second
}

// Apply submits a new config to the slot and waits for validation. A change
// arriving during an in-flight advance takes effect strictly after that
// advance completes.
func (s *Slot) Apply(ctx context.Context, cfg store.SlotConfig) error {
	req := applyRequest{cfg: cfg, reply: make(chan error, 1)}
	select {
	case s.applyCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh tells the slot that the given folder's contents changed. An empty
// folder name invalidates every filesystem-backed slot. The send never
// blocks: if the slot's goroutine is gone or the buffer is full, the signal
// is dropped and the next apply or pending refresh re-resolves anyway.
func (s *Slot) Refresh(folder string) {
	select {
	case s.refreshCh <- folder:
	default:
		slog.Debug("refresh signal dropped", "display", s.handle.Name, "folder", folder)
	}
}

// Status returns the slot's snapshot. Never blocks on an in-flight advance.
func (s *Slot) Status() SlotStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	out := s.status
	out.Config = s.status.Config.Clone()
	return out
}

// apply validates and installs a new config. Rejection leaves every piece of
// slot state untouched. Returns whether the pending timer must be replaced
// with a fresh full interval.
func (s *Slot) apply(cfg store.SlotConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	if err := s.resolver.ValidateSelector(cfg); err != nil {
		return false, err
	}
	if cfg.Mode == store.ModeNowPlaying && s.feed == nil {
		return false, errors.New("no now-playing feed configured on this device")
	}

	rearmFull := cfg.Mode != s.cfg.Mode || cfg.IntervalSeconds != s.cfg.IntervalSeconds

	s.cfg = cfg.Clone()
	s.seqValid = false
	s.pos = 0

	s.statusMu.Lock()
	s.status.Config = cfg.Clone()
	s.status.Position = 0
	s.status.LastError = ""
	s.statusMu.Unlock()

	return rearmFull, nil
}

// advance renders the next item. Returns whether the slot should be
// rescheduled for another tick.
func (s *Slot) advance(ctx context.Context) bool {
	if !s.seqValid {
		if !s.resolve() {
			return false
		}
	}

	var item string
	if s.seq.Dynamic {
		// a now_playing config restored from the store bypasses apply's feed
		// check; park the slot until it is reconfigured
		if s.feed == nil {
			s.goIdle(errors.New("no now-playing feed configured on this device"))
			return false
		}
		path, err := s.feed.Current(ctx)
		if err != nil {
			slog.Warn("now playing feed unavailable", "display", s.handle.Name, "error", err)
			s.recordError(err)
			return true
		}
		item = path
	} else {
		item = s.seq.Items[s.pos]
		s.pos = (s.pos + 1) % len(s.seq.Items)
	}

	// rotation degrees ride along on every render, so a rotation change
	// naturally lands on the next item rather than forcing a re-render
	if err := s.renderer.Render(s.handle, item, s.cfg.RotationDegrees); err != nil {
		slog.Warn("render failed", "display", s.handle.Name, "item", item, "error", err)
		s.recordError(err)
		return true
	}

	s.markShown(item)

	// a pinned image needs no further ticks; mpv keeps it on screen until
	// the slot is reconfigured or the library changes
	return s.cfg.Mode != store.ModeSpecificImage
}

// resolve refreshes the cached sequence, applying a new shuffle permutation
// only here so repeated advances reuse the same order until the next
// invalidation.
func (s *Slot) resolve() bool {
	seq, err := s.resolver.Resolve(s.cfg)
	if err != nil {
		slog.Info("slot going idle", "display", s.handle.Name, "error", err)
		s.goIdle(err)
		return false
	}
	if s.cfg.Shuffle && !seq.Dynamic && len(seq.Items) > 1 {
		s.rng.Shuffle(len(seq.Items), func(i, j int) {
			seq.Items[i], seq.Items[j] = seq.Items[j], seq.Items[i]
		})
	}
	s.seq = seq
	s.seqValid = true
	if s.pos >= len(seq.Items) && len(seq.Items) > 0 {
		s.pos = 0
	}
	return true
}

func (s *Slot) referencesFolder(folder string) bool {
	if s.cfg.Mode == store.ModeNowPlaying {
		return false
	}
	if folder == "" {
		return true
	}
	switch s.cfg.Mode {
	case store.ModeRandomImage:
		// an empty category watches the whole library
		return s.cfg.Category == "" || s.cfg.Category == folder
	case store.ModeSpecificImage:
		return s.cfg.Category == folder
	case store.ModeMixed:
		for _, f := range s.cfg.MixedFolders {
			if f == folder {
				return true
			}
		}
	}
	return false
}

func (s *Slot) goIdle(err error) {
	s.seqValid = false
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.State = StateIdle
	s.status.LastError = err.Error()
	// CurrentItem and CurrentSince keep the last good render so an operator
	// can see when the display got stuck
}

func (s *Slot) recordError(err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.LastError = err.Error()
}

func (s *Slot) markShown(item string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.State = StatePlaying
	s.status.Position = s.pos
	s.status.SequenceLen = len(s.seq.Items)
	s.status.CurrentItem = item
	s.status.CurrentSince = time.Now()
	s.status.LastError = ""
}
