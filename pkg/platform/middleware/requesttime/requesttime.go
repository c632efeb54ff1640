// Package requesttime captures one "now" per request so every gate decision,
// calendar bucket and audit line in that request agrees on the time.
package requesttime

import (
	"net/http"
	"time"

	"chatguard/pkg/requestcontext"
)

// Middleware stamps each request with the wall clock in UTC.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps each request with now(). Tests pin the clock to land
// requests in a chosen calendar hour or day.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
