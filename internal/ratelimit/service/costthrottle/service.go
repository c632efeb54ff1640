package costthrottle

import (
	"context"
	"errors"
	"log/slog"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/observability"
	"chatguard/internal/ratelimit/ports"
	"chatguard/internal/ratelimit/settings"
	"chatguard/internal/ratelimit/storeguard"
	dErrors "chatguard/pkg/domain-errors"
	"chatguard/pkg/platform/audit"
	"chatguard/pkg/requestcontext"
)

type (
	CostStore      = ports.CostStore
	StatsStore     = ports.StatsStore
	AuditPublisher = ports.AuditPublisher
)

// SettingsSource supplies a fresh snapshot per decision.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Values
}

type Service struct {
	store          CostStore
	settings       SettingsSource
	stats          StatsStore
	guard          *storeguard.Guard
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

func WithGuard(g *storeguard.Guard) Option {
	return func(s *Service) {
		if g != nil {
			s.guard = g
		}
	}
}

func New(store CostStore, source SettingsSource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("cost store is required")
	}
	if source == nil {
		return nil, errors.New("settings source is required")
	}
	svc := &Service{
		store:    store,
		settings: source,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.guard == nil {
		svc.guard = storeguard.New(models.GateCost, storeguard.WithMetrics(svc.metrics), storeguard.WithLogger(svc.logger))
	}
	return svc, nil
}

// DefaultEstimate is the cost charged when the caller gives no estimate.
func (s *Service) DefaultEstimate(ctx context.Context) models.Money {
	return s.settings.Snapshot(ctx).CostDefaultEstimate
}

// CheckAndRecord admits estimatedCost for identifier and commits it to the
// ledger in one step. Nothing is recorded on rejection. A store outage fails
// open.
func (s *Service) CheckAndRecord(ctx context.Context, identifier string, estimatedCost models.Money) (*models.CostResult, error) {
	if estimatedCost < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "estimated cost cannot be negative")
	}
	ctx, span := observability.StartDecision(ctx, models.GateCost, identifier)
	result := s.checkAndRecord(ctx, identifier, estimatedCost)
	observability.EndDecision(span, string(result.Outcome), result.Degraded, nil)
	return result, nil
}

func (s *Service) checkAndRecord(ctx context.Context, identifier string, cost models.Money) *models.CostResult {
	v := s.settings.Snapshot(ctx)
	if !v.CostThrottleEnabled {
		return &models.CostResult{Outcome: models.CostAllowed}
	}

	result, err := storeguard.Do(ctx, s.guard, "cost_check", func(ctx context.Context) (*models.CostResult, error) {
		return s.store.CheckAndRecord(ctx, models.CostCheck{
			Identifier:       identifier,
			Cost:             cost,
			Lookback:         v.CostLookback,
			Threshold:        v.CostHighThreshold,
			ThrottleDuration: v.CostThrottleDuration,
			DailyLimit:       v.CostDailyLimit,
			HourlyLimit:      v.CostHourlyLimit,
			Now:              requestcontext.Now(ctx),
		})
	})
	if err != nil {
		observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateCost, observability.PolicyOpen, identifier, err)
		result = &models.CostResult{Outcome: models.CostAllowed, Degraded: true}
		s.record(ctx, result)
		return result
	}

	s.record(ctx, result)
	switch result.Outcome {
	case models.CostAllowed:
		s.metrics.RecordCost(cost.Micros())
	case models.CostThrottled:
		if result.ThrottleApplied {
			s.metrics.RecordCostThrottle()
			ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCostThrottled,
				"identifier", identifier,
				"reason", "high_recent_cost",
				"recent_cost", result.RecentCost.String(),
				"estimated_cost", cost.String(),
				"threshold", v.CostHighThreshold.String(),
				"throttle", v.CostThrottleDuration.String(),
			)
		}
	case models.CostGlobalLimitExceeded:
		limit := v.CostDailyLimit
		if result.Scope == models.LimitScopeHourly {
			limit = v.CostHourlyLimit
		}
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventGlobalCostLimitExceeded,
			"identifier", identifier,
			"reason", string(result.Scope),
			"estimated_cost", cost.String(),
			"limit", limit.String(),
			"retry_after_seconds", result.RetryAfterSeconds(),
		)
	}
	return result
}

// CurrentUsage reads the global accumulators against their limits.
func (s *Service) CurrentUsage(ctx context.Context) (*models.Usage, error) {
	v := s.settings.Snapshot(ctx)
	now := requestcontext.Now(ctx)

	type totals struct{ daily, hourly models.Money }
	t, err := storeguard.Do(ctx, s.guard, "cost_usage", func(ctx context.Context) (totals, error) {
		daily, hourly, err := s.store.GlobalTotals(ctx, now)
		return totals{daily: daily, hourly: hourly}, err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cost store unavailable")
	}

	dayStart, dayEnd := models.DayBounds(now)
	hourStart, hourEnd := models.HourBounds(now)
	return &models.Usage{
		Daily:  models.NewUsagePeriod(t.daily, v.CostDailyLimit, dayStart, dayEnd),
		Hourly: models.NewUsagePeriod(t.hourly, v.CostHourlyLimit, hourStart, hourEnd),
	}, nil
}

// Inspect returns identifier's throttle state and recent cost.
func (s *Service) Inspect(ctx context.Context, identifier string) (*models.CostState, error) {
	v := s.settings.Snapshot(ctx)
	state, err := storeguard.Do(ctx, s.guard, "cost_inspect", func(ctx context.Context) (*models.CostState, error) {
		return s.store.Inspect(ctx, identifier, v.CostLookback, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cost store unavailable")
	}
	return state, nil
}

func (s *Service) record(ctx context.Context, result *models.CostResult) {
	s.metrics.RecordDecision(string(models.GateCost), string(result.Outcome))
	if s.stats == nil {
		return
	}
	statsCtx, cancel := s.guard.Context(ctx)
	defer cancel()
	if err := s.stats.Increment(statsCtx, models.GateCost, string(result.Outcome), requestcontext.Now(ctx)); err != nil {
		s.logger.DebugContext(ctx, "failed to record cost stats", "error", err)
	}
}
