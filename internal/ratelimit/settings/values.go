package settings

import (
	"time"

	"chatguard/internal/ratelimit/models"
)

// Values is a fully resolved, typed settings snapshot. Gates take one per decision.
type Values struct {
	RateLimitEnabled         bool
	RateLimitPerMinute       int
	RateLimitPerHour         int
	GlobalRateLimitPerMinute int
	GlobalRateLimitPerHour   int
	BanTiers                 []time.Duration
	BanAfterViolations       int
	ViolationCooldown        time.Duration
	RateLimitFailClosed      bool

	ChallengeEnabled        bool
	ChallengeTTL            time.Duration
	ChallengeMaxActive      int
	ChallengeIssuePerMinute int
	ChallengeIssuePerHour   int
	ChallengeFailClosed     bool
	ChallengeBindIdentifier bool

	CostThrottleEnabled  bool
	CostLookback         time.Duration
	CostHighThreshold    models.Money
	CostThrottleDuration time.Duration
	CostDailyLimit       models.Money
	CostHourlyLimit      models.Money
	CostDefaultEstimate  models.Money
}

// IdentifierLimits are the per-caller request windows.
func (v Values) IdentifierLimits() []models.WindowLimit {
	return []models.WindowLimit{
		{Window: time.Minute, Limit: v.RateLimitPerMinute},
		{Window: time.Hour, Limit: v.RateLimitPerHour},
	}
}

// GlobalLimits are the aggregate request windows.
func (v Values) GlobalLimits() []models.WindowLimit {
	return []models.WindowLimit{
		{Window: time.Minute, Limit: v.GlobalRateLimitPerMinute},
		{Window: time.Hour, Limit: v.GlobalRateLimitPerHour},
	}
}

// ChallengeIssueLimits are the windows applied to the issuance endpoint.
func (v Values) ChallengeIssueLimits() []models.WindowLimit {
	return []models.WindowLimit{
		{Window: time.Minute, Limit: v.ChallengeIssuePerMinute},
		{Window: time.Hour, Limit: v.ChallengeIssuePerHour},
	}
}

// Defaults returns the hardcoded layer.
func Defaults() Values {
	var v Values
	for _, opt := range schema {
		parsed, err := opt.Parse(opt.Default)
		if err != nil {
			panic("settings: invalid default for " + opt.Name + ": " + err.Error())
		}
		opt.apply(&v, parsed)
	}
	return v
}
