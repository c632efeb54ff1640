package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.yaml")
	writeFile(t, path, `
settings:
  rate_limit_per_minute: 120
  ban_tiers: [30s, 2m, 10m]
  cost_daily_limit: "75.00"
  not_a_setting: 1
`)

	f, err := LoadStaticFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		RateLimitPerMinute: "120",
		BanTiers:           "30s,2m,10m",
		CostDailyLimit:     "75.00",
	}, f.Values())
}

func TestLoadStaticFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadStaticFile(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		assert.Error(t, err)
	})

	t.Run("nested mapping rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "guard.yaml")
		writeFile(t, path, "settings:\n  ban_tiers:\n    first: 1m\n")
		_, err := LoadStaticFile(path, nil)
		assert.Error(t, err)
	})
}

func TestStaticFile_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.yaml")
	writeFile(t, path, "settings:\n  challenge_ttl: 2m\n")
	f, err := LoadStaticFile(path, nil)
	require.NoError(t, err)

	writeFile(t, path, "settings: [unclosed")
	assert.Error(t, f.Reload())
	assert.Equal(t, "2m", f.Values()[ChallengeTTL])
}

func TestStaticFile_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.yaml")
	writeFile(t, path, "settings:\n  challenge_max_active: 5\n")
	f, err := LoadStaticFile(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- f.Watch(ctx, func() { changes.Add(1) })
	}()

	require.Eventually(t, func() bool {
		writeFile(t, path, "settings:\n  challenge_max_active: 9\n")
		return f.Values()[ChallengeMaxActive] == "9" && changes.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
