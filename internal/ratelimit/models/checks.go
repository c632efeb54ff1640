package models

import "time"

// WindowCheck is the input to one atomic rate-limit evaluation.
type WindowCheck struct {
	Scope      Scope
	Identifier string
	Limits     []WindowLimit
	// BanTiers empty disables escalation for the scope.
	BanTiers []time.Duration
	BanAfter int
	Cooldown time.Duration
}

// Escalates reports whether violations in this check can start a ban.
func (c WindowCheck) Escalates() bool {
	return len(c.BanTiers) > 0 && c.BanAfter > 0
}

// WindowState is the read-only view of one scope's counters.
type WindowState struct {
	Banned         bool
	BanRemaining   time.Duration
	ViolationCount int
	// Counts maps window length ("1m0s") to requests counted so far.
	Counts map[string]int
}

// CostCheck is the input to one atomic cost check-and-record.
type CostCheck struct {
	Identifier       string
	Cost             Money
	Lookback         time.Duration
	Threshold        Money
	ThrottleDuration time.Duration
	DailyLimit       Money
	HourlyLimit      Money
	Now              time.Time
}

// CostState is the read-only view of one caller's cost ledger.
type CostState struct {
	Throttled         bool
	ThrottleRemaining time.Duration
	RecentCost        Money
}
