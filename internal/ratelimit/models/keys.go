package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SanitizeKeySegment escapes delimiter characters in key segments so an
// identifier containing ':' cannot address a neighbouring key.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Store key layout. Every key a gate touches is built here.
const (
	keyWindowPrefix      = "rl:win"
	keyBanPrefix         = "rl:ban"
	keyViolationPrefix   = "rl:viol"
	keyChallengeToken    = "ch:tok"
	keyChallengeActive   = "ch:active"
	keyCostRecent        = "cost:recent"
	keyCostThrottle      = "cost:throttle"
	keyCostGlobalDaily   = "cost:global:day"
	keyCostGlobalHourly  = "cost:global:hour"
	keyStatsTotal        = "guard:stats:total"
	keyStatsDay          = "guard:stats:day"
	KeySettings          = "guard:settings"
	ChannelSettingsFlush = "guard:settings:invalidate"
)

// WindowKey addresses one fixed-window counter.
func WindowKey(scope Scope, identifier string, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyWindowPrefix, scope, SanitizeKeySegment(identifier), strconv.FormatInt(int64(window/time.Second), 10))
}

// BanKey addresses the ban marker for identifier in scope.
func BanKey(scope Scope, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", keyBanPrefix, scope, SanitizeKeySegment(identifier))
}

// ViolationKey addresses the consecutive-violation counter.
func ViolationKey(scope Scope, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", keyViolationPrefix, scope, SanitizeKeySegment(identifier))
}

func ChallengeTokenKey(tokenID string) string {
	return keyChallengeToken + ":" + SanitizeKeySegment(tokenID)
}

func ChallengeActiveKey(identifier string) string {
	return keyChallengeActive + ":" + SanitizeKeySegment(identifier)
}

// ChallengeTokenKeyPrefix lets scripts rebuild token keys from set members.
func ChallengeTokenKeyPrefix() string {
	return keyChallengeToken + ":"
}

func CostRecentKey(identifier string) string {
	return keyCostRecent + ":" + SanitizeKeySegment(identifier)
}

func CostThrottleKey(identifier string) string {
	return keyCostThrottle + ":" + SanitizeKeySegment(identifier)
}

// CostDailyKey is bucketed by UTC calendar day.
func CostDailyKey(now time.Time) string {
	return keyCostGlobalDaily + ":" + now.UTC().Format("20060102")
}

// CostHourlyKey is bucketed by UTC calendar hour.
func CostHourlyKey(now time.Time) string {
	return keyCostGlobalHourly + ":" + now.UTC().Format("2006010215")
}

func StatsTotalKey() string {
	return keyStatsTotal
}

func StatsDayKey(now time.Time) string {
	return keyStatsDay + ":" + now.UTC().Format("20060102")
}

// DayBounds returns the UTC calendar day containing now.
func DayBounds(now time.Time) (start, end time.Time) {
	u := now.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// HourBounds returns the UTC calendar hour containing now.
func HourBounds(now time.Time) (start, end time.Time) {
	start = now.UTC().Truncate(time.Hour)
	return start, start.Add(time.Hour)
}
