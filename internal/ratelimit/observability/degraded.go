package observability

import (
	"context"
	"log/slog"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/ports"
	"chatguard/pkg/platform/audit"
)

// Fail policies applied when a gate's store is unreachable.
const (
	PolicyOpen     = "open"
	PolicyClosed   = "closed"
	PolicyFallback = "fallback"
)

// ReportDegraded logs, counts and audits a decision taken without the store.
// Failing open is logged at error level because it lets unmetered traffic through.
func ReportDegraded(ctx context.Context, logger *slog.Logger, publisher ports.AuditPublisher, m *metrics.Metrics, gate models.Gate, policy, identifier string, err error) {
	m.RecordDegraded(string(gate), policy)
	if logger != nil {
		level := slog.LevelWarn
		if policy == PolicyOpen {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "gate store unavailable, applying fail policy",
			"gate", string(gate),
			"policy", policy,
			"identifier", identifier,
			"error", err,
		)
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	ports.LogAudit(ctx, nil, publisher, audit.EventStoreDegraded,
		"identifier", identifier,
		"reason", policy,
		"gate", string(gate),
		"error", errText,
	)
}
