package middleware

import (
	"net/http"

	"chatguard/pkg/platform/privacy"
	"chatguard/pkg/requestcontext"
)

// Allowlist marks requests from allowlisted client IPs so the rate limiter
// and the challenge gate let them through. Lookup failures are treated as
// not allowlisted.
func (m *Middleware) Allowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		if m.allowlist == nil || ip == "" || requestcontext.SharedIdentity(ctx) {
			next.ServeHTTP(w, r)
			return
		}

		allowlisted, err := m.allowlist.IsAllowlisted(ctx, ip)
		if err != nil {
			m.logger.WarnContext(ctx, "allowlist lookup failed",
				"error", err,
				"ip_prefix", privacy.AnonymizeIP(ip),
			)
			next.ServeHTTP(w, r)
			return
		}
		if allowlisted {
			ctx = requestcontext.WithAllowlisted(ctx, true)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
