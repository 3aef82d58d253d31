package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Manager is the registry and dispatcher over the configured channels.
type Manager struct {
	channels map[string]Channel
	logger   *slog.Logger
}

// NewManager registers the given channels keyed by their channel-type name.
func NewManager(logger *slog.Logger, channels ...Channel) *Manager {
	m := &Manager{
		channels: make(map[string]Channel, len(channels)),
		logger:   logger,
	}
	for _, ch := range channels {
		m.channels[ch.Name()] = ch
	}
	return m
}

// Initialize initializes every registered channel. Misconfigured channels
// come up disabled instead of aborting startup.
func (m *Manager) Initialize(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize channel %s: %w", name, err)
		}
	}
	return nil
}

// Send routes one message to the channel registered for channelType. An
// unknown channel type is a caller error, not a delivery failure.
func (m *Manager) Send(ctx context.Context, channelType string, msg *Message) (*SendResult, error) {
	ch, ok := m.channels[channelType]
	if !ok {
		return nil, fmt.Errorf("unknown channel type %q", channelType)
	}
	return ch.Send(ctx, msg), nil
}

// Statuses returns every channel's status, sorted by name for stable output.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether at least one channel is enabled and healthy.
func (m *Manager) Healthy() bool {
	for _, ch := range m.channels {
		st := ch.Status()
		if st.Enabled && st.Healthy {
			return true
		}
	}
	return false
}
