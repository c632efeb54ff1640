// Package storeguard bounds every gate store call with a timeout and a
// circuit breaker.
package storeguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/circuit"
	"chatguard/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned without touching the store while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("store circuit open: %w", sentinel.ErrUnavailable)

const DefaultTimeout = 250 * time.Millisecond

type Guard struct {
	gate    models.Gate
	breaker *circuit.Breaker
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Guard)

func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Guard) {
		if b != nil {
			g.breaker = b
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func New(gate models.Gate, opts ...Option) *Guard {
	g := &Guard{
		gate:    gate,
		breaker: circuit.New(string(gate)),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Gate() models.Gate {
	return g.gate
}

// Context detaches from caller cancellation so a started script always
// commits, while the round trip stays bounded.
func (g *Guard) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
}

// Do runs fn against the store and feeds the outcome to the breaker.
func Do[T any](ctx context.Context, g *Guard, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !g.breaker.Allow() {
		return zero, ErrCircuitOpen
	}

	storeCtx, cancel := g.Context(ctx)
	defer cancel()

	start := time.Now()
	result, err := fn(storeCtx)
	g.metrics.ObserveStore(operation, start)

	if err != nil {
		_, change := g.breaker.RecordFailure()
		g.onChange(ctx, change, err)
		if !errors.Is(err, sentinel.ErrUnavailable) {
			err = fmt.Errorf("%s: %w: %w", operation, sentinel.ErrUnavailable, err)
		}
		return zero, err
	}
	_, change := g.breaker.RecordSuccess()
	g.onChange(ctx, change, nil)
	return result, nil
}

func (g *Guard) onChange(ctx context.Context, change circuit.StateChange, err error) {
	switch {
	case change.Opened:
		g.metrics.SetBreakerOpen(string(g.gate), true)
		g.logger.ErrorContext(ctx, "store circuit breaker opened", "gate", string(g.gate), "error", err)
	case change.Closed:
		g.metrics.SetBreakerOpen(string(g.gate), false)
		g.logger.InfoContext(ctx, "store circuit breaker closed", "gate", string(g.gate))
	}
}
