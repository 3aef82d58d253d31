// Package breaker implements a per-service circuit breaker. State lives in
// process memory only and resets to closed on restart.
package breaker

import (
	"sync"
	"time"
)

// State enumerates the breaker states for one service.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold         = 5
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 3
)

// Options tunes the breaker thresholds. Zero values fall back to defaults.
type Options struct {
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
	Now                      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = defaultResetTimeout
	}
	if o.HalfOpenSuccessThreshold <= 0 {
		o.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Snapshot is a read-only view of one service's circuit state.
type Snapshot struct {
	Service         string    `json:"service"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	SuccessCount    int       `json:"success_count"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

type circuit struct {
	state           State
	failures        int
	successCount    int
	lastFailure     time.Time
	lastStateChange time.Time
}

// Breaker tracks circuit state per named service. Circuits are created lazily
// on the first recorded outcome and live for the process lifetime.
type Breaker struct {
	opts Options

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New constructs a Breaker with the supplied options.
func New(opts Options) *Breaker {
	return &Breaker{
		opts:     opts.withDefaults(),
		circuits: make(map[string]*circuit),
	}
}

func (b *Breaker) circuitLocked(service string) *circuit {
	c, ok := b.circuits[service]
	if !ok {
		c = &circuit{state: StateClosed, lastStateChange: b.opts.Now()}
		b.circuits[service] = c
	}
	return c
}

// refreshLocked applies the lazy open-to-half-open transition. State changes
// are evaluated at access time, not by independent timers.
func (b *Breaker) refreshLocked(c *circuit, now time.Time) {
	if c.state == StateOpen && now.Sub(c.lastFailure) >= b.opts.ResetTimeout {
		c.state = StateHalfOpen
		c.successCount = 0
		c.lastStateChange = now
	}
}

// IsOpen reports whether calls to the service should be short-circuited.
func (b *Breaker) IsOpen(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return false
	}
	b.refreshLocked(c, b.opts.Now())
	return c.state == StateOpen
}

// State returns the current state for a service, applying lazy transitions.
func (b *Breaker) State(service string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return StateClosed
	}
	b.refreshLocked(c, b.opts.Now())
	return c.state
}

// RecordSuccess reports a successful call outcome for the service.
func (b *Breaker) RecordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	c := b.circuitLocked(service)
	b.refreshLocked(c, now)

	switch c.state {
	case StateHalfOpen:
		c.successCount++
		if c.successCount >= b.opts.HalfOpenSuccessThreshold {
			c.state = StateClosed
			c.failures = 0
			c.successCount = 0
			c.lastStateChange = now
		}
	case StateClosed:
		// Sporadic, non-clustered failures should never trip the breaker.
		if c.failures > 0 {
			c.failures--
		}
	}
}

// RecordFailure reports a failed call outcome for the service.
func (b *Breaker) RecordFailure(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	c := b.circuitLocked(service)
	b.refreshLocked(c, now)

	c.failures++
	c.lastFailure = now

	switch c.state {
	case StateHalfOpen:
		// Any failure while probing re-opens and re-arms the reset timer.
		c.successCount = 0
		c.state = StateOpen
		c.lastStateChange = now
	case StateClosed:
		if c.failures >= b.opts.FailureThreshold {
			c.state = StateOpen
			c.lastStateChange = now
		}
	}
}

// RetryAfter returns how long callers should wait before retrying the
// service. Zero when the circuit is not open.
func (b *Breaker) RetryAfter(service string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return 0
	}
	now := b.opts.Now()
	b.refreshLocked(c, now)
	if c.state != StateOpen {
		return 0
	}
	remaining := b.opts.ResetTimeout - now.Sub(c.lastFailure)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Snapshots returns a read-only view of every tracked circuit.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	out := make([]Snapshot, 0, len(b.circuits))
	for service, c := range b.circuits {
		b.refreshLocked(c, now)
		out = append(out, Snapshot{
			Service:         service,
			State:           c.state.String(),
			Failures:        c.failures,
			SuccessCount:    c.successCount,
			LastFailure:     c.lastFailure,
			LastStateChange: c.lastStateChange,
		})
	}
	return out
}
