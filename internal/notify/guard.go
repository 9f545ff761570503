package notify

import (
	"context"
	"io"

	"marketsim/internal/resilience"
)

// GuardedChannel retries failed sends with backoff and stops calling a sink
// that keeps failing until its circuit breaker lets a trial send through.
type GuardedChannel struct {
	inner   NotificationChannel
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// Guard wraps ch with the default breaker and retry settings.
func Guard(ch NotificationChannel) *GuardedChannel {
	return GuardWith(ch, resilience.DefaultCircuitBreakerConfig(), resilience.DefaultRetryConfig())
}

// GuardWith wraps ch with explicit breaker and retry settings.
func GuardWith(ch NotificationChannel, cb resilience.CircuitBreakerConfig, retry resilience.RetryConfig) *GuardedChannel {
	return &GuardedChannel{
		inner:   ch,
		breaker: resilience.NewCircuitBreaker(ch.Name(), cb),
		retry:   retry,
	}
}

// Name returns the wrapped channel's name.
func (g *GuardedChannel) Name() string { return g.inner.Name() }

// IsEnabled reports whether the wrapped channel is enabled.
func (g *GuardedChannel) IsEnabled() bool { return g.inner.IsEnabled() }

// Send delivers n through the breaker. One breaker call covers all retries.
func (g *GuardedChannel) Send(ctx context.Context, n Notification) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, g.retry, func(ctx context.Context) error {
			return g.inner.Send(ctx, n)
		})
	})
}

// Stats returns the breaker statistics.
func (g *GuardedChannel) Stats() resilience.CircuitBreakerStats {
	return g.breaker.Stats()
}

// Close closes the wrapped channel if it holds resources.
func (g *GuardedChannel) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
