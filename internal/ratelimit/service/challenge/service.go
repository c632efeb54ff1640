package challenge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

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
	ChallengeStore = ports.ChallengeStore
	StatsStore     = ports.StatsStore
	AuditPublisher = ports.AuditPublisher
)

// SettingsSource supplies a fresh snapshot per decision.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Values
}

// IssueLimiter meters the issuance endpoint. Satisfied by requestlimit.Service.
type IssueLimiter interface {
	CheckScope(ctx context.Context, scope models.Scope, identifier string, limits []models.WindowLimit, failClosed bool) *models.RateLimitResult
}

const minSigningKeyLength = 32

type Service struct {
	store          ChallengeStore
	limiter        IssueLimiter
	settings       SettingsSource
	tokens         *tokenSigner
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

func New(store ChallengeStore, limiter IssueLimiter, source SettingsSource, signingKey []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if limiter == nil {
		return nil, errors.New("issue limiter is required")
	}
	if source == nil {
		return nil, errors.New("settings source is required")
	}
	if len(signingKey) < minSigningKeyLength {
		return nil, errors.New("signing key must be at least 32 bytes")
	}

	svc := &Service{
		store:    store,
		limiter:  limiter,
		settings: source,
		tokens:   newTokenSigner(signingKey),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.guard == nil {
		svc.guard = storeguard.New(models.GateChallenge, storeguard.WithMetrics(svc.metrics), storeguard.WithLogger(svc.logger))
	}
	return svc, nil
}

type issueReply struct {
	issued bool
	active int
}

type consumeReply struct {
	owner string
	found bool
}

// Enabled reports whether callers must present a token.
func (s *Service) Enabled(ctx context.Context) bool {
	return s.settings.Snapshot(ctx).ChallengeEnabled
}

// Issue hands out a single-use token unless the caller is over its issuance
// rate or already holds the maximum number of unexpired challenges.
// A store outage returns a CodeUnavailable error.
func (s *Service) Issue(ctx context.Context, identifier string) (*models.ChallengeIssue, error) {
	ctx, span := observability.StartDecision(ctx, models.GateChallenge, identifier)
	issue, err := s.issue(ctx, identifier)
	outcome := "error"
	if issue != nil {
		outcome = string(issue.Outcome)
	}
	observability.EndDecision(span, outcome, false, err)
	return issue, err
}

func (s *Service) issue(ctx context.Context, identifier string) (*models.ChallengeIssue, error) {
	v := s.settings.Snapshot(ctx)
	if !v.ChallengeEnabled {
		return &models.ChallengeIssue{Outcome: models.ChallengeDisabled}, nil
	}

	rl := s.limiter.CheckScope(ctx, models.ScopeChallengeIssue, identifier, v.ChallengeIssueLimits(), v.ChallengeFailClosed)
	if !rl.Allowed() {
		s.record(ctx, string(models.ChallengeIssueLimited))
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventChallengeIssueLimited,
			"identifier", identifier,
			"reason", string(rl.Outcome),
			"retry_after_seconds", rl.RetryAfterSeconds(),
		)
		return &models.ChallengeIssue{Outcome: models.ChallengeIssueLimited, RateLimit: rl}, nil
	}

	now := requestcontext.Now(ctx)
	expiresAt := ceilSecond(now.Add(v.ChallengeTTL))
	ttl := expiresAt.Sub(now)
	record := models.ChallengeRecord{
		TokenID:    uuid.NewString(),
		Identifier: identifier,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}
	token, err := s.tokens.sign(record.TokenID, identifier, record.IssuedAt, record.ExpiresAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign challenge token")
	}

	reply, err := storeguard.Do(ctx, s.guard, "challenge_issue", func(ctx context.Context) (issueReply, error) {
		issued, active, err := s.store.Issue(ctx, record, ttl, v.ChallengeMaxActive)
		return issueReply{issued: issued, active: active}, err
	})
	if err != nil {
		observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateChallenge, observability.PolicyClosed, identifier, err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "challenge store unavailable")
	}

	if !reply.issued {
		s.record(ctx, string(models.ChallengeTooManyActive))
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventChallengeCapacity,
			"identifier", identifier,
			"reason", models.ReasonTooManyActiveChallenges,
			"active", reply.active,
			"max_active", v.ChallengeMaxActive,
		)
		return &models.ChallengeIssue{
			Outcome:     models.ChallengeTooManyActive,
			ActiveCount: reply.active,
			MaxActive:   v.ChallengeMaxActive,
		}, nil
	}

	s.metrics.RecordChallengeIssued()
	s.record(ctx, string(models.ChallengeIssued))
	s.logger.DebugContext(ctx, "challenge issued",
		"identifier", identifier,
		"token_id", record.TokenID,
		"active", reply.active,
	)
	return &models.ChallengeIssue{
		Outcome:     models.ChallengeIssued,
		Token:       token,
		TokenID:     record.TokenID,
		ExpiresAt:   record.ExpiresAt,
		ActiveCount: reply.active,
		MaxActive:   v.ChallengeMaxActive,
	}, nil
}

// Consume verifies token and burns it. The signature and expiry are checked
// before the store is touched. With identifier binding on, a token whose
// subject differs from the caller in ctx is rejected without being burned.
func (s *Service) Consume(ctx context.Context, token string) (*models.ChallengeResult, error) {
	requester := requestcontext.Identifier(ctx)
	ctx, span := observability.StartDecision(ctx, models.GateChallenge, requester)
	result := s.consume(ctx, requester, token)
	observability.EndDecision(span, string(result.Outcome), result.Degraded, nil)
	return result, nil
}

func (s *Service) consume(ctx context.Context, requester, token string) *models.ChallengeResult {
	v := s.settings.Snapshot(ctx)
	if !v.ChallengeEnabled {
		return &models.ChallengeResult{Outcome: models.ChallengeValid}
	}

	claims, err := s.tokens.parse(token, requestcontext.Now(ctx))
	if err != nil {
		outcome := models.ChallengeInvalid
		if errors.Is(err, errTokenExpired) {
			outcome = models.ChallengeExpired
		}
		return s.reject(ctx, requester, outcome, audit.EventChallengeRejected)
	}

	if v.ChallengeBindIdentifier && requester != "" && claims.Subject != requester {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventChallengeIdentityClash,
			"identifier", requester,
			"reason", "issued_to_other_identifier",
			"token_id", claims.ID,
		)
		return s.reject(ctx, requester, models.ChallengeInvalid, "")
	}

	reply, err := storeguard.Do(ctx, s.guard, "challenge_consume", func(ctx context.Context) (consumeReply, error) {
		owner, found, err := s.store.Consume(ctx, claims.ID, claims.Subject)
		return consumeReply{owner: owner, found: found}, err
	})
	if err != nil {
		if v.ChallengeFailClosed {
			observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateChallenge, observability.PolicyClosed, requester, err)
			s.record(ctx, string(models.ChallengeInvalid))
			return &models.ChallengeResult{Outcome: models.ChallengeInvalid, Degraded: true}
		}
		observability.ReportDegraded(ctx, s.logger, s.auditPublisher, s.metrics, models.GateChallenge, observability.PolicyOpen, requester, err)
		s.record(ctx, string(models.ChallengeValid))
		return &models.ChallengeResult{Outcome: models.ChallengeValid, Identifier: claims.Subject, Degraded: true}
	}

	if !reply.found {
		return s.reject(ctx, requester, models.ChallengeInvalid, audit.EventChallengeRejected)
	}

	s.record(ctx, string(models.ChallengeValid))
	return &models.ChallengeResult{Outcome: models.ChallengeValid, Identifier: reply.owner}
}

// reject records a failed consume. event may be empty when the caller has
// already audited the rejection.
func (s *Service) reject(ctx context.Context, requester string, outcome models.ChallengeOutcome, event audit.AuditEvent) *models.ChallengeResult {
	s.record(ctx, string(outcome))
	if event != "" {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, event,
			"identifier", requester,
			"reason", string(outcome),
		)
	}
	return &models.ChallengeResult{Outcome: outcome}
}

// ActiveCount reports how many unexpired challenges identifier holds.
func (s *Service) ActiveCount(ctx context.Context, identifier string) (int, error) {
	count, err := storeguard.Do(ctx, s.guard, "challenge_active_count", func(ctx context.Context) (int, error) {
		return s.store.ActiveCount(ctx, identifier)
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "challenge store unavailable")
	}
	return count, nil
}

func (s *Service) record(ctx context.Context, outcome string) {
	s.metrics.RecordDecision(string(models.GateChallenge), outcome)
	if s.stats == nil {
		return
	}
	statsCtx, cancel := s.guard.Context(ctx)
	defer cancel()
	if err := s.stats.Increment(statsCtx, models.GateChallenge, outcome, requestcontext.Now(ctx)); err != nil {
		s.logger.DebugContext(ctx, "failed to record challenge stats", "error", err)
	}
}
