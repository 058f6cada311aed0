package credential

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// Breaker guards the durable repository. While open, calls fail fast and
// the store reports itself unavailable instead of piling requests onto a
// failing database.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewBreaker creates a breaker that opens once at least threshold calls
// in the current window have been made and half of them failed. It stays
// open for timeout.
func NewBreaker(name string, threshold int, timeout time.Duration, logger observability.Logger) *Breaker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	minRequests := safeUint32(threshold)

	b := &Breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: func(err error) bool {
			// A miss or a caller giving up says nothing about backend
			// health.
			return err == nil ||
				errors.Is(err, ErrTokenNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("credential store breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return b
}

func safeUint32(n int) uint32 {
	if n < 1 {
		return 1
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Do runs fn through the breaker. When the breaker rejects the call the
// returned error is ErrBreakerOpen.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		trace.SpanFromContext(ctx).AddEvent("breaker_rejected",
			trace.WithAttributes(attribute.String("breaker.state", b.cb.State().String())))
		return ErrBreakerOpen
	}
	return err
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("credential store circuit open")
