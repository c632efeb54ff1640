package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatguard/internal/ratelimit/models"
	dErrors "chatguard/pkg/domain-errors"
)

func TestDefaultsParse(t *testing.T) {
	v := Defaults()
	assert.True(t, v.RateLimitEnabled)
	assert.Equal(t, 60, v.RateLimitPerMinute)
	assert.Equal(t, 24*time.Hour, v.ViolationCooldown)
	assert.Equal(t, 15, v.ChallengeMaxActive)
	assert.Equal(t, models.Money(1_000_000), v.CostHighThreshold)
	assert.Equal(t, models.Money(10_000), v.CostDefaultEstimate)
}

func TestOptionParse(t *testing.T) {
	tests := []struct {
		name    string
		option  string
		raw     string
		want    string
		wantErr bool
	}{
		{"bool", RateLimitEnabled, "FALSE", "false", false},
		{"bool garbage", RateLimitEnabled, "nope", "", true},
		{"int", RateLimitPerMinute, "25", "25", false},
		{"int below min", RateLimitPerMinute, "0", "", true},
		{"duration", ChallengeTTL, "90s", "1m30s", false},
		{"duration too long", ChallengeTTL, "48h", "", true},
		{"tiers", BanTiers, "30s, 2m", "30s,2m0s", false},
		{"tiers decreasing", BanTiers, "5m,1m", "", true},
		{"tiers too many", BanTiers, "1s,1s,1s,1s,1s,1s,1s,1s,1s,1s,1s", "", true},
		{"money", CostDailyLimit, "12.5", "12.50", false},
		{"money negative", CostDailyLimit, "-1", "", true},
		{"money zero estimate", CostDefaultEstimate, "0", "0.00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, ok := Lookup(tt.option)
			require.True(t, ok)
			got, err := opt.Normalize(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	t.Run("empty update rejected", func(t *testing.T) {
		_, err := ValidateUpdate(nil)
		assert.Error(t, err)
	})

	t.Run("all entries normalized", func(t *testing.T) {
		out, err := ValidateUpdate(map[string]string{
			RateLimitPerHour: "1000",
			CostLookback:     "600s",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{RateLimitPerHour: "1000", CostLookback: "10m0s"}, out)
	})

	t.Run("one bad entry fails everything", func(t *testing.T) {
		out, err := ValidateUpdate(map[string]string{
			RateLimitPerHour: "1000",
			"unknown":        "1",
		})
		assert.Error(t, err)
		assert.Nil(t, out)
	})
}

func TestOptionsCoverValues(t *testing.T) {
	seen := map[string]bool{}
	for _, opt := range Options() {
		assert.False(t, seen[opt.Name], "duplicate option %s", opt.Name)
		seen[opt.Name] = true
		assert.NotEmpty(t, opt.Description, opt.Name)
		assert.NotNil(t, opt.apply, opt.Name)
	}
}
