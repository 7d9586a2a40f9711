package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Chain] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable providers, each behind its own
// [Breaker]. The first entry is the primary.
type Chain[T any] struct {
	entries []entry[T]
	cfg     BreakerConfig
}

// NewChain creates a chain holding primary.
func NewChain[T any](name string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback. Fallbacks are tried in the order they were added.
// Add must not be called concurrently with [Try].
func (c *Chain[T]) Add(name string, value T) {
	c.entries = append(c.entries, entry[T]{name: name, value: value, breaker: NewBreaker(name, c.cfg)})
}

// Len returns the number of entries including the primary.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Primary returns the first entry.
func (c *Chain[T]) Primary() T { return c.entries[0].value }

// Try calls fn on each entry in order until one succeeds. It stops early
// when ctx is done, returning the context error.
func Try[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		e := &c.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var res R
		err := e.breaker.Do(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "provider", e.name)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", e.name)
			continue
		}
		slog.Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
