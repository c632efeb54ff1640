package models

import "time"

// Reason codes returned to rejected callers.
const (
	ReasonRateLimited             = "rate_limited"
	ReasonBanned                  = "banned"
	ReasonCostThrottled           = "cost_throttled"
	ReasonGlobalCostLimitExceeded = "global_cost_limit_exceeded"
	ReasonTooManyActiveChallenges = "too_many_active_challenges"
	ReasonChallengeRequired       = "challenge_required"
	ReasonChallengeInvalid        = "challenge_invalid"
	ReasonChallengeExpired        = "challenge_expired"
	ReasonServiceUnavailable      = "service_unavailable"
)

// RejectionResponse is the body of every policy rejection.
type RejectionResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RetryAfter     int    `json:"retry_after,omitempty"` // seconds
	ViolationCount int    `json:"violation_count,omitempty"`
	Scope          string `json:"scope,omitempty"`
}

// ChallengeResponse is returned by the issuance endpoint.
type ChallengeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeDisabledResponse tells clients no token is needed.
type ChallengeDisabledResponse struct {
	Enabled bool `json:"enabled"`
}

// AllowlistEntryResponse is the API response for allowlist operations.
type AllowlistEntryResponse struct {
	Allowlisted bool       `json:"allowlisted"`
	IP          string     `json:"ip"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// IdentifierStateResponse is the admin view of a caller.
type IdentifierStateResponse struct {
	Identifier        string         `json:"identifier"`
	Banned            bool           `json:"banned"`
	BanRemaining      int            `json:"ban_remaining_seconds"`
	ViolationCount    int            `json:"violation_count"`
	Throttled         bool           `json:"throttled"`
	ThrottleRemaining int            `json:"throttle_remaining_seconds"`
	RecentCost        Money          `json:"recent_cost"`
	ActiveChallenges  int            `json:"active_challenges"`
	WindowCounts      map[string]int `json:"window_counts"`
}

// IdentifierStateResponseFrom converts the domain view for transport.
func IdentifierStateResponseFrom(s *IdentifierState) *IdentifierStateResponse {
	return &IdentifierStateResponse{
		Identifier:        s.Identifier,
		Banned:            s.Banned,
		BanRemaining:      CeilSeconds(s.BanRemaining),
		ViolationCount:    s.ViolationCount,
		Throttled:         s.Throttled,
		ThrottleRemaining: CeilSeconds(s.ThrottleRemaining),
		RecentCost:        s.RecentCost,
		ActiveChallenges:  s.ActiveChallenges,
		WindowCounts:      s.WindowCounts,
	}
}

// ChatAcceptedResponse is returned by the gated placeholder action.
type ChatAcceptedResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// AllowlistListResponse wraps the active allowlist.
type AllowlistListResponse struct {
	Entries []*AllowlistEntry `json:"entries"`
}
