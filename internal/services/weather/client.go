// Package weather evaluates the nine watering rules against current
// conditions and drives system pause/resume.
package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// Client fetches current conditions plus forecast from the weather source.
type Client interface {
	Fetch(ctx context.Context) (model.WeatherSnapshot, error)
}

// BreakerClient wraps a Client in a circuit breaker so a flapping weather
// source cannot slow every evaluation cycle down to its timeout.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerClient(inner Client) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather-source",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (b *BreakerClient) Fetch(ctx context.Context) (model.WeatherSnapshot, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Fetch(ctx)
	})
	if err != nil {
		return model.WeatherSnapshot{}, fmt.Errorf("weather fetch: %w", err)
	}
	return out.(model.WeatherSnapshot), nil
}
