package completion

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// BreakerSettings configures Breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trip after 3 straight failures and probe again
// after 30s.
var DefaultBreakerSettings = BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: 30 * time.Second}

// Breaker short-circuits a failing Completer: while open, calls fail
// immediately without reaching the API.
type Breaker struct {
	next    Completer
	breaker *cb.CircuitBreaker
}

var _ Completer = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(name string, next Completer, s BreakerSettings) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings.ConsecutiveFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultBreakerSettings.OpenTimeout
	}
	settings := cb.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn().Str("name", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
	}
	return &Breaker{next: next, breaker: cb.NewCircuitBreaker(settings)}
}

// Complete calls the wrapped completer unless the breaker is open, in
// which case it returns cb.ErrOpenState (or cb.ErrTooManyRequests while
// half-open).
func (b *Breaker) Complete(ctx context.Context, req Request) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		text, err := b.next.Complete(ctx, req)
		return text, err
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string { return b.breaker.State().String() }
