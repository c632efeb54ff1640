package models

import (
	"math"
	"net/netip"
	"time"

	"github.com/google/uuid"

	dErrors "chatguard/pkg/domain-errors"
)

// Gate names a decision point. Used as a metric and stats label.
type Gate string

const (
	GateRateLimit Gate = "rate_limit"
	GateChallenge Gate = "challenge"
	GateCost      Gate = "cost"
)

// Scope partitions rate-limit counters.
type Scope string

const (
	// ScopeIdentifier counts requests per caller.
	ScopeIdentifier Scope = "id"
	// ScopeGlobal counts requests across all callers under one pseudo-identifier.
	ScopeGlobal Scope = "global"
	// ScopeChallengeIssue counts challenge issuance per caller.
	ScopeChallengeIssue Scope = "challenge"
)

// GlobalIdentifier is the shared pseudo-identifier for ScopeGlobal.
const GlobalIdentifier = "__global__"

// SharedIdentifier is assigned to callers with no derivable identity. They are
// accounted for together as one high-risk caller.
const SharedIdentifier = "id_shared"

// -----------------------------------------------------------------------------
// Rate limiting
// -----------------------------------------------------------------------------

type RateLimitOutcome string

const (
	RateLimitAllowed RateLimitOutcome = "allowed"
	RateLimitLimited RateLimitOutcome = "rate_limited"
	RateLimitBanned  RateLimitOutcome = "banned"
)

// WindowLimit is a request budget over a fixed window.
type WindowLimit struct {
	Window time.Duration
	Limit  int
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Outcome        RateLimitOutcome `json:"outcome"`
	Scope          Scope            `json:"scope"`
	Limit          int              `json:"limit"`
	Remaining      int              `json:"remaining"`
	ResetAt        time.Time        `json:"reset_at"`
	RetryAfter     time.Duration    `json:"-"`
	ViolationCount int              `json:"violation_count,omitempty"`
	// BanApplied is set on the request whose violation started a ban.
	BanApplied bool `json:"ban_applied,omitempty"`
	Bypassed   bool `json:"bypassed,omitempty"`
	// Degraded is set when the store was unreachable and a fail policy decided.
	Degraded bool `json:"degraded,omitempty"`
}

func (r *RateLimitResult) Allowed() bool {
	return r != nil && r.Outcome == RateLimitAllowed
}

// RetryAfterSeconds rounds up so clients never retry early.
func (r *RateLimitResult) RetryAfterSeconds() int {
	return CeilSeconds(r.RetryAfter)
}

// -----------------------------------------------------------------------------
// Challenges
// -----------------------------------------------------------------------------

type ChallengeIssueOutcome string

const (
	ChallengeIssued        ChallengeIssueOutcome = "issued"
	ChallengeDisabled      ChallengeIssueOutcome = "disabled"
	ChallengeTooManyActive ChallengeIssueOutcome = "too_many_active_challenges"
	ChallengeIssueLimited  ChallengeIssueOutcome = "rate_limited"
)

// ChallengeIssue is the result of a challenge issuance attempt.
type ChallengeIssue struct {
	Outcome     ChallengeIssueOutcome
	Token       string
	TokenID     string
	ExpiresAt   time.Time
	ActiveCount int
	MaxActive   int
	RateLimit   *RateLimitResult
}

func (c *ChallengeIssue) Disabled() bool {
	return c != nil && c.Outcome == ChallengeDisabled
}

type ChallengeOutcome string

const (
	ChallengeValid   ChallengeOutcome = "valid"
	ChallengeInvalid ChallengeOutcome = "invalid"
	ChallengeExpired ChallengeOutcome = "expired"
)

// ChallengeResult is the result of consuming a challenge token.
type ChallengeResult struct {
	Outcome ChallengeOutcome
	// Identifier is the owner recorded at issuance. Empty when the gate is disabled.
	Identifier string
	Degraded   bool
}

func (c *ChallengeResult) Valid() bool {
	return c != nil && c.Outcome == ChallengeValid
}

// ChallengeRecord is the stored form of an issued challenge.
type ChallengeRecord struct {
	TokenID    string
	Identifier string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// -----------------------------------------------------------------------------
// Cost
// -----------------------------------------------------------------------------

type CostOutcome string

const (
	CostAllowed             CostOutcome = "allowed"
	CostThrottled           CostOutcome = "throttled"
	CostGlobalLimitExceeded CostOutcome = "global_limit_exceeded"
)

// LimitScope names the global accumulator that rejected a request.
type LimitScope string

const (
	LimitScopeDaily  LimitScope = "daily"
	LimitScopeHourly LimitScope = "hourly"
)

// CostResult is the result of an atomic check-and-record.
type CostResult struct {
	Outcome    CostOutcome
	RetryAfter time.Duration
	Scope      LimitScope
	// ThrottleApplied is set on the request that started a throttle.
	ThrottleApplied bool
	// RecentCost is the caller's rolling sum after the decision.
	RecentCost Money
	Degraded   bool
}

func (c *CostResult) Allowed() bool {
	return c != nil && c.Outcome == CostAllowed
}

func (c *CostResult) RetryAfterSeconds() int {
	return CeilSeconds(c.RetryAfter)
}

// UsagePeriod is one global accumulator against its limit.
type UsagePeriod struct {
	Total       Money     `json:"total"`
	Limit       Money     `json:"limit"`
	Remaining   Money     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Usage is the read-only view of global spend.
type Usage struct {
	Daily  UsagePeriod `json:"daily"`
	Hourly UsagePeriod `json:"hourly"`
}

// NewUsagePeriod fills Remaining, clamped at zero.
func NewUsagePeriod(total, limit Money, start, end time.Time) UsagePeriod {
	remaining := limit - total
	if remaining < 0 {
		remaining = 0
	}
	return UsagePeriod{Total: total, Limit: limit, Remaining: remaining, PeriodStart: start, PeriodEnd: end}
}

// -----------------------------------------------------------------------------
// Inspection
// -----------------------------------------------------------------------------

// IdentifierState is the admin view of one caller's gate state.
type IdentifierState struct {
	Identifier        string
	Banned            bool
	BanRemaining      time.Duration
	ViolationCount    int
	Throttled         bool
	ThrottleRemaining time.Duration
	RecentCost        Money
	ActiveChallenges  int
	WindowCounts      map[string]int
}

// Stats is a set of "<gate>:<outcome>" counters.
type Stats struct {
	Total map[string]int64 `json:"total"`
	Today map[string]int64 `json:"today"`
}

// -----------------------------------------------------------------------------
// Allowlist
// -----------------------------------------------------------------------------

// AllowlistEntry is a client IP that bypasses the rate limiter and the
// challenge gate. Cost control still applies.
type AllowlistEntry struct {
	ID        string     `json:"id"`
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
}

// NewAllowlistEntry creates an AllowlistEntry with domain invariant validation.
func NewAllowlistEntry(ip, reason, createdBy string, expiresAt *time.Time, now time.Time) (*AllowlistEntry, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ip must be a valid address")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reason cannot be empty")
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expires_at must be in the future")
	}
	return &AllowlistEntry{
		ID:        uuid.NewString(),
		IP:        addr.Unmap().String(),
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		CreatedBy: createdBy,
	}, nil
}

// IsExpiredAt checks if the entry has expired as of now.
func (e *AllowlistEntry) IsExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// CeilSeconds converts a duration to whole seconds, rounding up.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
