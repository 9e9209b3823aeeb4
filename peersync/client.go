// Package peersync lets a main device read and overwrite the display
// configuration of remote sub devices over their admin API.
package peersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tpersp/piviewer/display"
	"github.com/tpersp/piviewer/rotation"
	"github.com/tpersp/piviewer/store"
)

var (
	// ErrPeerUnreachable means the request never completed: connection
	// refused, timeout, or DNS failure.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrPeerProtocol means the peer answered with something that is not the
	// expected payload.
	ErrPeerProtocol = errors.New("peer protocol error")
)

// RejectedError means the peer refused to apply any of the pushed configs.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("peer rejected push: %s", e.Reason)
}

// Client performs single bounded-timeout round trips against a peer. No call
// retries automatically; the caller decides whether to try again.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{Timeout: timeout},
	}
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	// JoinHostPort brackets bare IPv6 addresses as a side effect
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "8080")
	}
	return "http://" + addr
}

// Pull fetches the peer's full device config.
func (c *Client) Pull(ctx context.Context, addr string) (*store.DeviceConfig, error) {
	var cfg store.DeviceConfig
	if err := c.getJSON(ctx, addr, "/sync_config", &cfg); err != nil {
		return nil, err
	}
	if cfg.Displays == nil {
		return nil, fmt.Errorf("sync_config payload missing displays: %w", ErrPeerProtocol)
	}
	return &cfg, nil
}

// ListMonitors fetches the peer's detected monitors.
func (c *Client) ListMonitors(ctx context.Context, addr string) ([]display.Handle, error) {
	var handles []display.Handle
	if err := c.getJSON(ctx, addr, "/list_monitors", &handles); err != nil {
		return nil, err
	}
	return handles, nil
}

// PushDisplays applies a full or partial set of slot configs on the peer. The
// peer runs them through its own scheduler exactly as it would a local edit,
// so the returned result may report partial failures.
func (c *Client) PushDisplays(ctx context.Context, addr string, displays map[string]store.SlotConfig) (*rotation.ApplyResult, error) {
	payload, err := json.Marshal(struct {
		Displays map[string]store.SlotConfig `json:"displays"`
	}{Displays: displays})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	url := baseURL(addr) + "/update_config"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push to %s: %w", addr, ErrPeerUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, &RejectedError{Reason: errorReason(body)}
	default:
		return nil, fmt.Errorf("push to %s returned status %d: %w", addr, resp.StatusCode, ErrPeerProtocol)
	}

	var result rotation.ApplyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse push response: %w", ErrPeerProtocol)
	}
	if len(result.Applied) == 0 && len(result.Failed) > 0 {
		return nil, &RejectedError{Reason: fmt.Sprintf("all %d slots rejected", len(result.Failed))}
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, addr, path string, out any) error {
	url := baseURL(addr) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s from %s: %w", path, addr, ErrPeerUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s from %s returned status %d: %w", path, addr, resp.StatusCode, ErrPeerProtocol)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", path, ErrPeerProtocol)
	}
	return nil
}

func errorReason(body []byte) string {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(body))
}
