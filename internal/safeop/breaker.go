package safeop

import (
	"sync"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON health payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Breaker is a thread-safe circuit breaker for one operation key.
//
// Closed counts consecutive failures and opens at the threshold. Open rejects
// everything until the cooldown elapses, then the next caller becomes the single
// HalfOpen trial: its success closes the circuit, its failure reopens it.
type Breaker struct {
	key       string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(key string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

func newBreaker(key string, threshold int, cooldown time.Duration, now func() time.Time, onChange func(string, State, State)) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{key: key, threshold: threshold, cooldown: cooldown, now: now, onChange: onChange}
}

// acquire admits a call. In HalfOpen only one caller at a time holds the trial slot.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if elapsed := b.now().Sub(b.openedAt); elapsed < b.cooldown {
			return &CircuitOpenError{Key: b.key, RetryIn: b.cooldown - elapsed}
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return nil
	default:
		if b.trial {
			return &CircuitOpenError{Key: b.key}
		}
		b.trial = true
		return nil
	}
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trial = false
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
}

// neutral records an outcome that says nothing about upstream health, such as
// a caller cancellation. A held trial slot is released without a transition.
func (b *Breaker) neutral() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(b.key, from, to)
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures reports the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
