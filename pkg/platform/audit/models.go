package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategorySecurity covers abuse signals: bans, throttles, rejected tokens.
	CategorySecurity EventCategory = "security"

	// CategoryAdmin covers operator actions that change gate behaviour.
	CategoryAdmin EventCategory = "admin"

	// CategoryOperations covers degradations and routine activity.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for SIEM routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from gate logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory     `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject,omitempty"`
	Action    string            `json:"action"`
	Reason    string            `json:"reason,omitempty"`
	IP        string            `json:"ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	Severity  Severity          `json:"severity,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

type AuditEvent string

const (
	// Rate limiting
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventBanApplied        AuditEvent = "ban_applied"
	EventBanRejected       AuditEvent = "ban_rejected"
	EventBanLifted         AuditEvent = "ban_lifted"
	EventAllowlistBypassed AuditEvent = "allowlist_bypassed"

	// Challenges
	EventChallengeIssued        AuditEvent = "challenge_issued"
	EventChallengeCapacity      AuditEvent = "challenge_capacity_reached"
	EventChallengeRejected      AuditEvent = "challenge_rejected"
	EventChallengeIssueLimited  AuditEvent = "challenge_issue_rate_limited"
	EventChallengeIdentityClash AuditEvent = "challenge_identifier_mismatch"

	// Cost
	EventCostThrottled           AuditEvent = "cost_throttled"
	EventGlobalCostLimitExceeded AuditEvent = "global_cost_limit_exceeded"

	// Infrastructure
	EventStoreDegraded AuditEvent = "store_degraded"

	// Admin
	EventSettingsUpdated  AuditEvent = "settings_updated"
	EventSettingsReset    AuditEvent = "settings_reset"
	EventAllowlistAdded   AuditEvent = "allowlist_added"
	EventAllowlistRemoved AuditEvent = "allowlist_removed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRateLimitExceeded:       CategorySecurity,
	EventBanApplied:              CategorySecurity,
	EventBanRejected:             CategorySecurity,
	EventAllowlistBypassed:       CategorySecurity,
	EventChallengeCapacity:       CategorySecurity,
	EventChallengeRejected:       CategorySecurity,
	EventChallengeIssueLimited:   CategorySecurity,
	EventChallengeIdentityClash:  CategorySecurity,
	EventCostThrottled:           CategorySecurity,
	EventGlobalCostLimitExceeded: CategorySecurity,

	EventBanLifted:        CategoryAdmin,
	EventSettingsUpdated:  CategoryAdmin,
	EventSettingsReset:    CategoryAdmin,
	EventAllowlistAdded:   CategoryAdmin,
	EventAllowlistRemoved: CategoryAdmin,

	EventChallengeIssued: CategoryOperations,
	EventStoreDegraded:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
