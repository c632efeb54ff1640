// Package middleware places the gates in front of expensive handlers. The
// order is allowlist, challenge, rate limit, then cost.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/privacy"
	"chatguard/pkg/requestcontext"
)

// Headers read or written by the gates.
const (
	HeaderChallengeToken = "X-Challenge-Token"
	HeaderEstimatedCost  = "X-Estimated-Cost"
	HeaderRetryAfter     = "Retry-After"
	HeaderLimit          = "X-RateLimit-Limit"
	HeaderRemaining      = "X-RateLimit-Remaining"
	HeaderReset          = "X-RateLimit-Reset"
	HeaderStatus         = "X-RateLimit-Status"
)

type RateLimiter interface {
	Check(ctx context.Context, identifier string) (*models.RateLimitResult, error)
}

type ChallengeVerifier interface {
	Enabled(ctx context.Context) bool
	Consume(ctx context.Context, token string) (*models.ChallengeResult, error)
}

type CostChecker interface {
	DefaultEstimate(ctx context.Context) models.Money
	CheckAndRecord(ctx context.Context, identifier string, estimatedCost models.Money) (*models.CostResult, error)
}

type AllowlistChecker interface {
	IsAllowlisted(ctx context.Context, ip string) (bool, error)
}

type Middleware struct {
	limiter    RateLimiter
	challenges ChallengeVerifier
	cost       CostChecker
	allowlist  AllowlistChecker
	logger     *slog.Logger
}

type Option func(*Middleware)

func WithRateLimiter(limiter RateLimiter) Option {
	return func(m *Middleware) {
		m.limiter = limiter
	}
}

func WithChallenges(challenges ChallengeVerifier) Option {
	return func(m *Middleware) {
		m.challenges = challenges
	}
}

func WithCostThrottle(cost CostChecker) Option {
	return func(m *Middleware) {
		m.cost = cost
	}
}

func WithAllowlist(allowlist AllowlistChecker) Option {
	return func(m *Middleware) {
		m.allowlist = allowlist
	}
}

// New builds the gate middleware. A gate left unset passes every request.
func New(logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Guard chains every configured gate in order.
func (m *Middleware) Guard(next http.Handler) http.Handler {
	return m.Allowlist(m.Challenge(m.RateLimit(m.CostThrottle(next))))
}

// RateLimit applies the per-identifier and global request windows.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		identifier := requestcontext.Identifier(ctx)

		result, err := m.limiter.Check(ctx, identifier)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"error", err,
				"identifier", identifier,
				"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
			)
			next.ServeHTTP(w, r)
			return
		}

		// Headers are added regardless of outcome.
		addRateLimitHeaders(w, result)

		if !result.Allowed() {
			writeRateLimited(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil || result.Bypassed || result.Limit == 0 {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set(HeaderStatus, "degraded")
	}
}
