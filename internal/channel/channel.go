// Package channel provides a uniform send/status contract over heterogeneous
// delivery providers.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConfigured marks a channel whose required credentials were absent at
// initialization. Sends on such a channel fail fast locally and must not be
// counted against any circuit breaker.
var ErrNotConfigured = errors.New("channel is not configured")

// Message is the channel-independent payload handed to a Channel. Recipient
// normalization and payload shaping are each channel's private concern.
type Message struct {
	ID        string
	Recipient string
	Subject   string
	Body      string
	Metadata  map[string]interface{}
}

// SendResult is the typed outcome of a send. Channels never panic or leak
// provider errors across this boundary.
type SendResult struct {
	Success          bool
	MessageID        string
	ProviderResponse map[string]interface{}
	Err              error
}

// StatusStats are the delivery counters owned by a channel.
type StatusStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
}

// Status is a point-in-time view of one channel's health. Mutated only by the
// owning channel; read-only to callers.
type Status struct {
	Name      string      `json:"name"`
	Enabled   bool        `json:"enabled"`
	Healthy   bool        `json:"healthy"`
	LastCheck time.Time   `json:"last_check"`
	Stats     StatusStats `json:"stats"`
}

// Channel is one delivery medium behind the manager.
type Channel interface {
	// Name returns the channel-type key used for routing.
	Name() string
	// Initialize validates configuration and prepares the provider client.
	// A configuration error disables the channel rather than aborting startup.
	Initialize(ctx context.Context) error
	// Send delivers one message. The result is always typed; Err carries
	// ErrNotConfigured when the channel was disabled at initialization.
	Send(ctx context.Context, msg *Message) *SendResult
	// Status is a pure read of current counters with no side effects.
	Status() Status
}

// health tracks the shared enabled/healthy/counter state every concrete
// channel embeds.
type health struct {
	name string

	mu        sync.RWMutex
	enabled   bool
	healthy   bool
	lastCheck time.Time

	sent    atomic.Int64
	failed  atomic.Int64
	pending atomic.Int64
}

func newHealth(name string) *health {
	return &health{name: name}
}

func (h *health) setState(enabled, healthy bool) {
	h.mu.Lock()
	h.enabled = enabled
	h.healthy = healthy
	h.lastCheck = time.Now()
	h.mu.Unlock()
}

func (h *health) isEnabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enabled
}

func (h *health) snapshot() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{
		Name:      h.name,
		Enabled:   h.enabled,
		Healthy:   h.healthy,
		LastCheck: h.lastCheck,
		Stats: StatusStats{
			Sent:    h.sent.Load(),
			Failed:  h.failed.Load(),
			Pending: h.pending.Load(),
		},
	}
}

// notConfigured is the shared fail-fast result for disabled channels.
func (h *health) notConfigured(detail string) *SendResult {
	h.failed.Add(1)
	return &SendResult{
		Success: false,
		Err:     fmt.Errorf("%w: %s", ErrNotConfigured, detail),
	}
}

// recordResult folds a send outcome into the channel counters.
func (h *health) recordResult(res *SendResult) *SendResult {
	if res.Success {
		h.sent.Add(1)
	} else {
		h.failed.Add(1)
	}
	return res
}
