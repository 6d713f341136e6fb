// Package session tracks client-side idle time. A Manager warns once when the idle
// deadline gets close and expires once when it passes, independently of token expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultTimeout       = 60 * time.Minute
	DefaultWarnBefore    = 5 * time.Minute
	DefaultCheckInterval = time.Minute
)

// ErrStopped is returned when a torn-down manager is restarted.
var ErrStopped = errors.New("session: manager stopped")

// State of the idle state machine.
type State int

const (
	StateIdle State = iota
	StateActive
	StateWarned
	StateExpired
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateWarned:
		return "warned"
	case StateExpired:
		return "expired"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ActivityKind names a user interaction.
type ActivityKind string

const (
	ActivityPointer ActivityKind = "pointer"
	ActivityKey     ActivityKind = "key"
	ActivityScroll  ActivityKind = "scroll"
	ActivityTouch   ActivityKind = "touch"
)

// Qualifies reports whether k renews the idle deadline.
func (k ActivityKind) Qualifies() bool {
	switch k {
	case ActivityPointer, ActivityKey, ActivityScroll, ActivityTouch:
		return true
	}
	return false
}

// EventKind names a signal for the host application.
type EventKind string

const (
	EventWarning EventKind = "warning"
	EventExpired EventKind = "expired"
)

// Event is emitted on the warning and expiry transitions. MinutesRemaining is only set
// for warnings and is rounded up.
type Event struct {
	Kind             EventKind `json:"kind"`
	MinutesRemaining int       `json:"minutes_remaining,omitempty"`
	At               time.Time `json:"at"`
}

// Config holds the idle policy. Zero fields take the defaults.
type Config struct {
	Timeout       time.Duration
	WarnBefore    time.Duration
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WarnBefore <= 0 {
		c.WarnBefore = DefaultWarnBefore
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Validate rejects a warning window that does not fit inside the timeout.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.WarnBefore >= c.Timeout {
		return fmt.Errorf("session: warning window %s must be shorter than timeout %s", c.WarnBefore, c.Timeout)
	}
	return nil
}

// Manager is the idle state machine. Methods are safe to call from any goroutine, but
// Run is the intended driver: one goroutine owning the ticker and the activity feed.
type Manager struct {
	cfg   Config
	clock Clock
	bus   *bus

	mu       sync.Mutex
	state    State
	deadline time.Time
	warned   bool
	stop     chan struct{}
}

// New builds a Manager in StateIdle. clock may be nil for the wall clock.
func New(cfg Config, clock Clock) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{
		cfg:   cfg.withDefaults(),
		clock: clock,
		bus:   newBus(),
		state: StateIdle,
		stop:  make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Start begins a fresh session after authentication, leaving any expired state behind.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return ErrStopped
	}
	m.deadline = m.clock.Now().Add(m.cfg.Timeout)
	m.warned = false
	m.state = StateActive
	return nil
}

// Activity renews the deadline for a qualifying interaction while the session is live.
// It reports whether the deadline moved.
func (m *Manager) Activity(kind ActivityKind) bool {
	if !kind.Qualifies() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive && m.state != StateWarned {
		return false
	}
	m.deadline = m.clock.Now().Add(m.cfg.Timeout)
	m.warned = false
	m.state = StateActive
	return true
}

// Check evaluates the remaining time, emitting at most one warning per window entry
// and exactly one expiry.
func (m *Manager) Check() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive && m.state != StateWarned {
		return m.state
	}
	now := m.clock.Now()
	remaining := m.deadline.Sub(now)
	switch {
	case remaining <= 0:
		m.state = StateExpired
		m.bus.publish(Event{Kind: EventExpired, At: now})
	case remaining <= m.cfg.WarnBefore && !m.warned:
		m.warned = true
		m.state = StateWarned
		m.bus.publish(Event{Kind: EventWarning, MinutesRemaining: ceilMinutes(remaining), At: now})
	}
	return m.state
}

func ceilMinutes(d time.Duration) int {
	return int((d + time.Minute - 1) / time.Minute)
}

// Stop tears the manager down: Run returns, subscriber channels close and no event
// fires afterwards. Stop is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return
	}
	m.state = StateStopped
	close(m.stop)
	m.bus.close()
}

// State reports the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline reports the idle deadline of the live session.
func (m *Manager) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Remaining reports the idle time left, zero when not live.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive && m.state != StateWarned {
		return 0
	}
	if d := m.deadline.Sub(m.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Subscribe returns a channel of events, closed when ctx ends or the manager stops.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.bus.subscribe(ctx)
}

// Run drives the manager from a single goroutine: activity from the feed renews the
// deadline and every check interval evaluates it. Run returns nil once the session
// expires or the manager is stopped, and ctx.Err() when ctx ends, stopping the manager.
func (m *Manager) Run(ctx context.Context, activity <-chan ActivityKind) error {
	ticker := m.clock.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return ctx.Err()
		case <-m.stop:
			return nil
		case kind, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			m.Activity(kind)
		case <-ticker.C():
			if m.Check() == StateExpired {
				return nil
			}
		}
	}
}
