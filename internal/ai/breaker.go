package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Breaker wraps a Generator with a circuit breaker so that a provider
// outage stops costing a full timeout per message. While open, calls fail
// immediately with gobreaker.ErrOpenState.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker trips after failures consecutive errors and probes again
// after cooldown.
func NewBreaker(next Generator, name string, failures int, cooldown time.Duration, log zerolog.Logger) *Breaker {
	if failures < 1 {
		failures = 1
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("model breaker state changed")
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Generate forwards to the wrapped Generator through the breaker.
func (b *Breaker) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state for logging.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
