package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeysEscapeDelimiters(t *testing.T) {
	assert.Equal(t, "rl:win:id:a_b:60", WindowKey(ScopeIdentifier, "a:b", time.Minute))
	assert.Equal(t, "rl:ban:global:__global__", BanKey(ScopeGlobal, GlobalIdentifier))
	assert.Equal(t, "cost:throttle:x_y", CostThrottleKey("x:y"))
}

func TestCalendarKeysUseUTC(t *testing.T) {
	// 23:30 at UTC-5 is 04:30 the next day in UTC.
	local := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))

	assert.Equal(t, "cost:global:day:20260310", CostDailyKey(local))
	assert.Equal(t, "cost:global:hour:2026031004", CostHourlyKey(local))

	start, end := DayBounds(local)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	hStart, hEnd := HourBounds(local)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), hStart)
	assert.Equal(t, time.Hour, hEnd.Sub(hStart))
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, 0, CeilSeconds(0))
	assert.Equal(t, 1, CeilSeconds(time.Millisecond))
	assert.Equal(t, 60, CeilSeconds(time.Minute))
	assert.Equal(t, 61, CeilSeconds(time.Minute+time.Nanosecond))
}
