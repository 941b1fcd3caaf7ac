package geo

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerLocator stops calling a failing provider for a while so a dead
// upstream costs nothing instead of a timeout per request.
type BreakerLocator struct {
	next Locator
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerLocator(next Locator, settings BreakerSettings) *BreakerLocator {
	if settings.Name == "" {
		settings.Name = "geo"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("geo: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// A provider that answers "unknown" is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotRoutable)
		},
	})

	return &BreakerLocator{next: next, cb: cb}
}

func (b *BreakerLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Lookup(ctx, ip)
	})
	if err != nil {
		return Location{}, err
	}
	return res.(Location), nil
}

func (b *BreakerLocator) State() gobreaker.State {
	return b.cb.State()
}
