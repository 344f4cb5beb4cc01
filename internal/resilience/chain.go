package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Chain] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all sources failed")

// ErrSkipEntry advances the chain to the next entry without counting as a
// failure for the current entry's circuit breaker. Callbacks return it
// (wrapped or bare) for "nothing here" outcomes on a healthy collaborator;
// breaker failures stay reserved for transport and API errors.
var ErrSkipEntry = errors.New("entry has no result")

// ChainConfig configures the per-entry circuit breaker created for each
// collaborator in a [Chain].
type ChainConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chainEntry pairs a collaborator value with its dedicated circuit breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain wraps an ordered list of collaborators of the same type. Entries are
// tried in registration order; when one fails (or its circuit breaker is
// open), the next healthy entry is tried. The audio track resolver uses a
// Chain of catalog sources so a dead catalog API does not silence the whole
// auto-audio pipeline.
//
// Chain is safe for concurrent use after all Add calls complete.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
}

// NewChain creates an empty [Chain]. Entries are registered via [Chain.Add]
// in priority order.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a collaborator. Entries are tried in the order they are added.
func (c *Chain[T]) Add(name string, value T) {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of registered entries.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Names returns the entry names in priority order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Try runs fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped
// with the last error if every entry fails, or if the chain is empty.
func (c *Chain[T]) Try(fn func(name string, v T) error) error {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		var skipErr error
		err := entry.breaker.Execute(func() error {
			innerErr := fn(entry.name, entry.value)
			if errors.Is(innerErr, ErrSkipEntry) {
				skipErr = innerErr
				return nil
			}
			return innerErr
		})
		if err == nil {
			if skipErr != nil {
				lastErr = skipErr
				slog.Debug("source declined, trying next",
					"source", entry.name, "reason", skipErr)
				continue
			}
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping source (circuit open)", "source", entry.name)
		} else {
			slog.Warn("source failed, trying next",
				"source", entry.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// TryWithResult runs fn against each entry in the chain until one succeeds,
// returning both the result value and error. This is a package-level
// function because Go does not support method-level type parameters.
func TryWithResult[T any, R any](c *Chain[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var (
			result  R
			skipErr error
		)
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.name, entry.value)
			if errors.Is(innerErr, ErrSkipEntry) {
				skipErr = innerErr
				return nil
			}
			return innerErr
		})
		if err == nil {
			if skipErr != nil {
				lastErr = skipErr
				slog.Debug("source declined, trying next",
					"source", entry.name, "reason", skipErr)
				continue
			}
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping source (circuit open)", "source", entry.name)
		} else {
			slog.Warn("source failed, trying next",
				"source", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
