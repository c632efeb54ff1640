package storeguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/circuit"
	"chatguard/pkg/platform/sentinel"
)

func newGuard(t *testing.T, now *time.Time) (*Guard, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	b := circuit.New("cost",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(func() time.Time { return *now }),
	)
	g := New(models.GateCost,
		WithBreaker(b),
		WithMetrics(m),
		WithTimeout(50*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return g, m
}

func TestDo_BreakerLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g, m := newGuard(t, &now)
	ctx := context.Background()
	boom := errors.New("dial tcp: connection refused")
	calls := 0
	failing := func(context.Context) (int, error) { calls++; return 0, boom }
	ok := func(context.Context) (int, error) { calls++; return 7, nil }

	for range 2 {
		_, err := Do(ctx, g, "op", failing)
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("cost")))

	_, err := Do(ctx, g, "op", ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open breaker short-circuits")

	now = now.Add(time.Second)
	v, err := Do(ctx, g, "op", ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("cost")))
}

func TestDo_DetachesFromCallerCancellation(t *testing.T) {
	now := time.Now()
	g, _ := newGuard(t, &now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := Do(ctx, g, "op", func(storeCtx context.Context) (string, error) {
		if storeCtx.Err() != nil {
			return "", storeCtx.Err()
		}
		_, hasDeadline := storeCtx.Deadline()
		assert.True(t, hasDeadline)
		return "committed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "committed", v)
}
