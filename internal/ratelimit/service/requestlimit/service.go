package requestlimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/observability"
	"chatguard/internal/ratelimit/ports"
	"chatguard/internal/ratelimit/settings"
	"chatguard/internal/ratelimit/storeguard"
	"chatguard/pkg/platform/audit"
	"chatguard/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
// This allows external packages to use these types without importing ports directly.
type (
	WindowStore    = ports.WindowStore
	StatsStore     = ports.StatsStore
	AuditPublisher = ports.AuditPublisher
)

// SettingsSource supplies a fresh snapshot per decision.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Values
}

// failClosedRetry is the retry hint sent while rejecting during a store outage.
const failClosedRetry = 5 * time.Second

type Service struct {
	store          WindowStore
	settings       SettingsSource
	stats          StatsStore
	guard          *storeguard.Guard
	fallback       *fallbackLimiter
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithStats(stats StatsStore) Option {
	return func(s *Service) {
		s.stats = stats
	}
}

// WithGuard replaces the default store guard (250ms timeout, default breaker).
func WithGuard(g *storeguard.Guard) Option {
	return func(s *Service) {
		if g != nil {
			s.guard = g
		}
	}
}

func New(store WindowStore, source SettingsSource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	if source == nil {
		return nil, errors.New("settings source is required")
	}

	svc := &Service{
		store:    store,
		settings: source,
		fallback: newFallbackLimiter(defaultFallbackEntries),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.guard == nil {
		svc.guard = storeguard.New(models.GateRateLimit, storeguard.WithMetrics(svc.metrics), storeguard.WithLogger(svc.logger))
	}
	return svc, nil
}

// Check applies the per-identifier windows and then the global windows.
// Allowlisted requests and a disabled limiter always pass.
func (s *Service) Check(ctx context.Context, identifier string) (*models.RateLimitResult, error) {
	ctx, span := observability.StartDecision(ctx, models.GateRateLimit, identifier)
	result := s.check(ctx, identifier)
	observability.EndDecision(span, string(result.Outcome), result.Degraded, nil)
	return result, nil
}

func (s *Service) check(ctx context.Context, identifier string) *models.RateLimitResult {
	v := s.settings.Snapshot(ctx)
	if !v.RateLimitEnabled {
		return &models.RateLimitResult{Outcome: models.RateLimitAllowed, Scope: models.ScopeIdentifier}
	}

	if requestcontext.Allowlisted(ctx) {
		s.metrics.RecordAllowlistBypass()
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAllowlistBypassed,
			"identifier", identifier,
			"reason", "allowlist",
		)
		return &models.RateLimitResult{Outcome: models.RateLimitAllowed, Scope: models.ScopeIdentifier, Bypassed: true}
	}

	result := s.evaluate(ctx, models.WindowCheck{
		Scope:      models.ScopeIdentifier,
		Identifier: identifier,
		Limits:     v.IdentifierLimits(),
		BanTiers:   v.BanTiers,
		BanAfter:   v.BanAfterViolations,
		Cooldown:   v.ViolationCooldown,
	}, v.RateLimitFailClosed)
	if !result.Allowed() {
		s.reject(ctx, identifier, result)
		return result
	}

	global := s.evaluate(ctx, models.WindowCheck{
		Scope:      models.ScopeGlobal,
		Identifier: models.GlobalIdentifier,
		Limits:     v.GlobalLimits(),
	}, v.RateLimitFailClosed)
	if !global.Allowed() {
		s.reject(ctx, identifier, global)
		return global
	}

	s.record(ctx, result)
	return result
}

// CheckScope counts one request against limits in scope without escalation.
// Other gates use it to meter their own endpoints.
func (s *Service) CheckScope(ctx context.Context, scope models.Scope, identifier string, limits []models.WindowLimit, failClosed bool) *models.RateLimitResult {
	result := s.evaluate(ctx, models.WindowCheck{
		Scope:      scope,
		Identifier: identifier,
		Limits:     limits,
	}, failClosed)
	if !result.Allowed() {
		s.logger.InfoContext(ctx, "scoped rate limit exceeded",
			"scope", string(scope),
			"identifier", identifier,
			"retry_after_seconds", result.RetryAfterSeconds(),
		)
	}
	return result
}

func (s *Service) evaluate(ctx context.Context, check models.WindowCheck, failClosed bool) *models.RateLimitResult {
	result, err := storeguard.Do(ctx, s.guard, "window_check", func(ctx context.Context) (*models.RateLimitResult, error) {
		return s.store.Check(ctx, check)
	})
	if err == nil {
		return result
	}

	now := requestcontext.Now(ctx)
	if failClosed {
		observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateRateLimit, observability.PolicyClosed, check.Identifier, err)
		return &models.RateLimitResult{
			Outcome:    models.RateLimitLimited,
			Scope:      check.Scope,
			ResetAt:    now.Add(failClosedRetry),
			RetryAfter: failClosedRetry,
			Degraded:   true,
		}
	}
	observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateRateLimit, observability.PolicyFallback, check.Identifier, err)
	return s.fallback.allow(check.Scope, check.Identifier, check.Limits, now)
}

func (s *Service) reject(ctx context.Context, identifier string, result *models.RateLimitResult) {
	s.record(ctx, result)
	switch {
	case result.Outcome == models.RateLimitBanned:
		s.logger.DebugContext(ctx, "request rejected during ban",
			"identifier", identifier,
			"retry_after_seconds", result.RetryAfterSeconds(),
			"violation_count", result.ViolationCount,
		)
	case result.BanApplied:
		s.metrics.RecordBan(result.RetryAfter)
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventBanApplied,
			"identifier", identifier,
			"reason", "rate_limit_violation",
			"scope", string(result.Scope),
			"ban", result.RetryAfter.String(),
			"violation_count", result.ViolationCount,
		)
	default:
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
			"identifier", identifier,
			"reason", string(result.Outcome),
			"scope", string(result.Scope),
			"retry_after_seconds", result.RetryAfterSeconds(),
		)
	}
}

func (s *Service) record(ctx context.Context, result *models.RateLimitResult) {
	s.metrics.RecordDecision(string(models.GateRateLimit), string(result.Outcome))
	if s.stats == nil {
		return
	}
	statsCtx, cancel := s.guard.Context(ctx)
	defer cancel()
	if err := s.stats.Increment(statsCtx, models.GateRateLimit, string(result.Outcome), requestcontext.Now(ctx)); err != nil {
		s.logger.DebugContext(ctx, "failed to record rate limit stats", "error", err)
	}
}
