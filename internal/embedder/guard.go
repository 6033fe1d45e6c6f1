package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/pkg/types"
)

// GuardConfig configures the circuit breaker and request pacing around a provider
type GuardConfig struct {
	RequestsPerMinute int           // 0 disables pacing
	BreakerFailures   uint32        // Consecutive failures that open the breaker
	BreakerCooldown   time.Duration // How long the breaker stays open
}

// DefaultGuardConfig returns the defaults used by the factory
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerMinute: 0,
		BreakerFailures:   5,
		BreakerCooldown:   60 * time.Second,
	}
}

// GuardedProvider wraps a Provider with a circuit breaker and a rate limiter.
// While the breaker is open the provider reports itself unavailable, so
// callers fail fast instead of queueing requests against a dead endpoint.
type GuardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuardedProvider wraps p
func NewGuardedProvider(p Provider, cfg GuardConfig) *GuardedProvider {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up says nothing about the provider's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("embedding provider breaker state changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &GuardedProvider{
		Provider: p,
		breaker:  breaker,
		limiter:  limiter,
	}
}

// IsAvailable is false while the breaker is open
func (g *GuardedProvider) IsAvailable() bool {
	return g.Provider.IsAvailable() && g.breaker.State() != gobreaker.StateOpen
}

// Embed paces the request and runs it through the breaker
func (g *GuardedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.Provider.Embed(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	return result.([][]float32), nil
}

// BreakerState returns the breaker state name
func (g *GuardedProvider) BreakerState() string {
	return g.breaker.State().String()
}
