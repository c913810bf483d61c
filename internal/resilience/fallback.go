package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [FallbackGroup] could serve a
// call, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every member of a [FallbackGroup]. Each member
// gets its own breaker built from CircuitBreaker with Name set to the member
// name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnError is called for each member that returned a real error. Skips
	// due to an open breaker and cancellations are not reported.
	OnError func(name string, err error)
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends. Calls go to
// the first member whose breaker admits them and move down the list on
// failure. The member list is fixed once calls start; AddFallback is meant
// for construction time.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member behind the existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Names lists members in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		out = append(out, m.name)
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteNamed(fg, func(_ string, v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against the members in order and returns the
// first successful result.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	return ExecuteNamed(fg, func(_ string, v T) (R, error) { return fn(v) })
}

// ExecuteNamed is like [ExecuteWithResult] but also passes the member name,
// for callers that adapt the request per backend.
//
// Cancellation ends the walk immediately and is returned unwrapped. When
// every member fails the result wraps both [ErrAllFailed] and the last
// error seen.
func ExecuteNamed[T, R any](fg *FallbackGroup[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	for i := range fg.members {
		m := &fg.members[i]

		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.name, m.value)
			return callErr
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Debug("fallback served request", "provider", m.name, "position", i)
			}
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("fallback skipped, breaker open", "provider", m.name)
		default:
			slog.Warn("fallback member failed", "provider", m.name, "err", err)
			if fg.cfg.OnError != nil {
				fg.cfg.OnError(m.name, err)
			}
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
