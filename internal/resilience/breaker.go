// Package resilience provides provider failover guarded by circuit breakers.
//
// A [Breaker] is a classic three-state breaker (closed → open → half-open).
// A [Chain] tries a primary and its fallbacks in order, skipping entries
// whose breaker is open. [LLM] and [STT] wrap chains of providers so the
// batch pipeline keeps working when one backend is down.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen

	// StateHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration
}

// Breaker guards one provider.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker]. name labels its log lines.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// Do runs fn unless the breaker rejects the call. Cancellation errors are
// returned unchanged and neither count as failure nor as success.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("resilience: circuit half-open", "provider", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		if probe {
			b.state = StateOpen
		}
		return
	}
	if err == nil {
		if b.state != StateClosed {
			slog.Info("resilience: circuit closed", "provider", b.name)
		}
		b.state, b.failures = StateClosed, 0
		return
	}
	b.failures++
	if probe || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			slog.Warn("resilience: circuit opened", "provider", b.name, "consecutive_failures", b.failures)
		}
		b.state, b.openedAt = StateOpen, b.now()
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}
