package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatguard/pkg/requestcontext"
)

func TestWithClockStampsUTC(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	pinned := time.Date(2026, 5, 4, 23, 59, 59, 0, local)

	var seen time.Time
	h := WithClock(func() time.Time { return pinned })(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, seen.Equal(pinned))
	assert.Equal(t, time.UTC, seen.Location(), "calendar buckets are cut in UTC")
}

func TestMiddlewareUsesWallClock(t *testing.T) {
	before := time.Now()
	var seen time.Time
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, seen.Before(before.Truncate(time.Second)))
}
