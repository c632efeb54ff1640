package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"chatguard/pkg/platform/httputil"
	"chatguard/pkg/requestcontext"
)

// HeaderAdminToken carries the shared admin secret.
const HeaderAdminToken = "X-Admin-Token"

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. An empty expectedToken rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderAdminToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthorized",
					ErrorDescription: "admin token required",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
