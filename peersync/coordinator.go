package peersync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tpersp/piviewer/rotation"
	"github.com/tpersp/piviewer/store"
)

// PeerStatus is a read-only view of one sub device: its last-known-good
// config plus when and how the last sync went. Stale is advisory only; it
// never blocks further pulls or pushes.
type PeerStatus struct {
	Name        string              `json:"name"`
	Addr        string              `json:"addr"`
	Config      *store.DeviceConfig `json:"config,omitempty"`
	FetchedAt   time.Time           `json:"fetched_at,omitzero"`
	LastOutcome string              `json:"last_outcome"`
	Stale       bool                `json:"stale"`
}

type cacheEntry struct {
	config      *store.DeviceConfig
	fetchedAt   time.Time
	lastOutcome string
}

// Coordinator is the main-device side of config sync: it pulls and pushes
// slot configs to sub devices and keeps a last-known-good cache per peer.
// Failures are surfaced to the caller and never clear cached state; a stale
// but valid view beats destroying the last-known config.
type Coordinator struct {
	db         *store.Database
	client     *Client
	staleAfter time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

func NewCoordinator(db *store.Database, client *Client, staleAfter time.Duration) *Coordinator {
	return &Coordinator{
		db:         db,
		client:     client,
		staleAfter: staleAfter,
		cache:      make(map[string]*cacheEntry),
	}
}

func (c *Coordinator) peer(name string) (*store.Peer, error) {
	peers, err := c.db.GetPeers()
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("unknown peer %q", name)
}

// Pull fetches the peer's current device config. On success the cached copy
// is replaced; on failure the prior cached copy survives untouched and the
// error goes back to the caller, who decides whether to retry.
func (c *Coordinator) Pull(ctx context.Context, name string) (*store.DeviceConfig, error) {
	peer, err := c.peer(name)
	if err != nil {
		return nil, err
	}

	cfg, err := c.client.Pull(ctx, peer.Addr)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[name]
	if !ok {
		entry = &cacheEntry{}
		c.cache[name] = entry
	}
	if err != nil {
		entry.lastOutcome = err.Error()
		return nil, err
	}
	entry.config = cfg
	entry.fetchedAt = time.Now()
	entry.lastOutcome = "pull ok"
	return cfg, nil
}

// Push applies slot configs on the peer through its own scheduler. Partial
// application is possible; the returned result names the rejected slots. On
// success the applied entries are folded into the cached copy so the
// operator's view matches what the peer now runs.
func (c *Coordinator) Push(ctx context.Context, name string, displays map[string]store.SlotConfig) (*rotation.ApplyResult, error) {
	peer, err := c.peer(name)
	if err != nil {
		return nil, err
	}

	result, err := c.client.PushDisplays(ctx, peer.Addr, displays)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[name]
	if !ok {
		entry = &cacheEntry{}
		c.cache[name] = entry
	}
	if err != nil {
		entry.lastOutcome = err.Error()
		return nil, err
	}

	if entry.config != nil {
		for _, applied := range result.Applied {
			entry.config.Displays[applied] = displays[applied].Clone()
		}
	}
	if result.OK() {
		entry.lastOutcome = "push ok"
	} else {
		entry.lastOutcome = fmt.Sprintf("push partially applied, %d slots rejected", len(result.Failed))
	}
	return result, nil
}

// AddPeer registers a new sub device in the topology.
func (c *Coordinator) AddPeer(p store.Peer) error {
	return c.db.AddPeer(p)
}

// RemovePeer drops a sub device from the topology and evicts its cache.
func (c *Coordinator) RemovePeer(name string) error {
	if err := c.db.RemovePeer(name); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
	slog.Info("removed sub device", "name", name)
	return nil
}

// Statuses lists every configured peer with its cached config and staleness.
func (c *Coordinator) Statuses() ([]PeerStatus, error) {
	peers, err := c.db.GetPeers()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PeerStatus, 0, len(peers))
	for _, p := range peers {
		status := PeerStatus{
			Name:        p.Name,
			Addr:        p.Addr,
			LastOutcome: "never synced",
		}
		if entry, ok := c.cache[p.Name]; ok {
			status.Config = entry.config
			status.FetchedAt = entry.fetchedAt
			if entry.lastOutcome != "" {
				status.LastOutcome = entry.lastOutcome
			}
			status.Stale = !entry.fetchedAt.IsZero() && time.Since(entry.fetchedAt) > c.staleAfter
		}
		out = append(out, status)
	}
	return out, nil
}
