// Package circuit stops work that keeps failing. Breaker guards calls to a
// downstream service and closes again after a cooldown; Budget caps the
// failures one unit of work (a batch) may accumulate.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets a single probe call through after the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after a run of consecutive failures. Once Cooldown has
// passed it admits one probe; a successful probe closes it, a failed one
// reopens it.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
// Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
// Default 30s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithStateChange registers a hook called outside the lock on every
// transition.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
	}
	if b.probing {
		b.mu.Unlock()
		return ErrOpen
	}
	b.probing = true
	b.mu.Unlock()
	b.notify(from, StateHalfOpen)
	return nil
}

// Record reports the outcome of an allowed call. failed should be true only
// for failures that say something about the downstream's health.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	from := b.state
	b.probing = false
	if !failed {
		b.failures = 0
		b.state = StateClosed
	} else {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Budget counts failures over the life of one unit of work and trips on the
// threshold-th failure. Successes do not refund it.
type Budget struct {
	mu        sync.Mutex
	threshold int
	failures  int
}

// NewBudget returns a budget that trips after threshold failures. A
// threshold below 1 is treated as 1.
func NewBudget(threshold int) *Budget {
	return &Budget{threshold: max(threshold, 1)}
}

// Fail records one failure and reports whether the budget is now spent.
func (b *Budget) Fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures >= b.threshold
}
