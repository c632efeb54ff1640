// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/attrs"
	"chatguard/pkg/platform/audit"
	"chatguard/pkg/requestcontext"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// WindowStore evaluates fixed-window counters and progressive bans atomically.
type WindowStore interface {
	// Check counts one request against every window in check and applies
	// escalation on violation.
	Check(ctx context.Context, check models.WindowCheck) (*models.RateLimitResult, error)

	// Inspect reads counters and ban state without modifying them.
	Inspect(ctx context.Context, scope models.Scope, identifier string, windows []time.Duration) (*models.WindowState, error)

	// ClearBan removes the ban and the violation history for identifier.
	ClearBan(ctx context.Context, scope models.Scope, identifier string) (bool, error)
}

// ChallengeStore holds issued challenge records and per-identifier active sets.
type ChallengeStore interface {
	// Issue stores record unless the identifier already holds maxActive
	// unexpired challenges. active is the count after the attempt.
	Issue(ctx context.Context, record models.ChallengeRecord, ttl time.Duration, maxActive int) (issued bool, active int, err error)

	// Consume deletes the record for tokenID and removes it from issuedTo's
	// active set. found is false when the token was never issued, was already
	// consumed or has expired. owner is the identifier stored at issuance.
	Consume(ctx context.Context, tokenID, issuedTo string) (owner string, found bool, err error)

	// ActiveCount returns the number of unexpired challenges for identifier.
	ActiveCount(ctx context.Context, identifier string) (int, error)
}

// CostStore is the cost ledger.
type CostStore interface {
	CheckAndRecord(ctx context.Context, check models.CostCheck) (*models.CostResult, error)
	GlobalTotals(ctx context.Context, now time.Time) (daily, hourly models.Money, err error)
	Inspect(ctx context.Context, identifier string, lookback time.Duration, now time.Time) (*models.CostState, error)
}

// StatsStore aggregates decision counters.
type StatsStore interface {
	Increment(ctx context.Context, gate models.Gate, outcome string, now time.Time) error
	Read(ctx context.Context, now time.Time) (*models.Stats, error)
}

// AllowlistStore manages rate limit bypass entries.
type AllowlistStore interface {
	// IsAllowlisted checks if a client IP should bypass rate limiting.
	IsAllowlisted(ctx context.Context, ip string) (bool, error)

	// Add creates or replaces an allowlist entry for the entry's IP.
	Add(ctx context.Context, entry *models.AllowlistEntry) error

	// Remove deletes the entry for ip. Returns sentinel.ErrNotFound when absent.
	Remove(ctx context.Context, ip string) error

	// List returns all unexpired allowlist entries.
	List(ctx context.Context) ([]*models.AllowlistEntry, error)
}

// LogAudit is a shared helper for logging audit events across ratelimit services.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}
	err := publisher.Emit(ctx, audit.Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		Action:    string(event),
		Subject:   attrs.First(attrList, "identifier", "ip", "name"),
		Reason:    attrs.First(attrList, "reason", "outcome"),
		IP:        attrs.ExtractString(attrList, "ip"),
		RequestID: requestID,
		ActorID:   attrs.ExtractString(attrList, "actor"),
		Severity:  severityFor(event),
		Details:   attrs.StringMap(attrList, "identifier", "ip", "reason", "request_id", "actor"),
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}

func severityFor(event audit.AuditEvent) audit.Severity {
	switch event {
	case audit.EventBanApplied, audit.EventGlobalCostLimitExceeded, audit.EventStoreDegraded:
		return audit.SeverityCritical
	case audit.EventChallengeIssued, audit.EventSettingsUpdated, audit.EventSettingsReset,
		audit.EventAllowlistAdded, audit.EventAllowlistRemoved, audit.EventBanLifted:
		return audit.SeverityInfo
	default:
		return audit.SeverityWarning
	}
}
