package requestlimit

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatguard/internal/ratelimit/models"
)

const defaultFallbackEntries = 10_000

// fallbackLimiter keeps coarse process-local limits while the shared store is
// unreachable. Each window becomes a token bucket refilling at limit/window
// with a burst of limit. Counts are per process, so the effective limit across
// N replicas is up to N times the configured one.
type fallbackLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	maxEntries int
}

func newFallbackLimiter(maxEntries int) *fallbackLimiter {
	return &fallbackLimiter{
		limiters:   make(map[string]*rate.Limiter),
		maxEntries: maxEntries,
	}
}

func (f *fallbackLimiter) allow(scope models.Scope, identifier string, limits []models.WindowLimit, now time.Time) *models.RateLimitResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.limiters) >= f.maxEntries {
		f.limiters = make(map[string]*rate.Limiter)
	}

	reservations := make([]*rate.Reservation, 0, len(limits))
	result := &models.RateLimitResult{Outcome: models.RateLimitAllowed, Scope: scope, Degraded: true}
	for _, l := range limits {
		lim := f.limiter(scope, identifier, l)
		r := lim.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		if !r.OK() || delay > 0 {
			r.CancelAt(now)
			for _, prev := range reservations {
				prev.CancelAt(now)
			}
			if delay <= 0 {
				delay = l.Window
			}
			return &models.RateLimitResult{
				Outcome:    models.RateLimitLimited,
				Scope:      scope,
				Limit:      l.Limit,
				ResetAt:    now.Add(delay),
				RetryAfter: delay,
				Degraded:   true,
			}
		}
		reservations = append(reservations, r)

		remaining := int(lim.TokensAt(now))
		if result.Limit == 0 || remaining < result.Remaining {
			result.Limit = l.Limit
			result.Remaining = remaining
			result.ResetAt = now.Add(l.Window)
		}
	}
	return result
}

func (f *fallbackLimiter) limiter(scope models.Scope, identifier string, l models.WindowLimit) *rate.Limiter {
	key := string(scope) + ":" + identifier + ":" + strconv.FormatInt(int64(l.Window/time.Second), 10)
	lim, ok := f.limiters[key]
	if ok && lim.Burst() == l.Limit {
		return lim
	}
	every := rate.Every(l.Window / time.Duration(max(l.Limit, 1)))
	lim = rate.NewLimiter(every, l.Limit)
	f.limiters[key] = lim
	return lim
}
