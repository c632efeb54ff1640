package middleware

import (
	"net/http"
	"strings"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/requestcontext"
)

// Challenge requires a valid single-use token in X-Challenge-Token while the
// gate is enabled. Allowlisted callers skip it.
func (m *Middleware) Challenge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if m.challenges == nil || requestcontext.Allowlisted(ctx) || !m.challenges.Enabled(ctx) {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(HeaderChallengeToken))
		if token == "" {
			writeChallengeRequired(w)
			return
		}

		result, err := m.challenges.Consume(ctx, token)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to verify challenge token",
				"error", err,
				"identifier", requestcontext.Identifier(ctx),
			)
			writeUnavailable(w)
			return
		}

		switch {
		case result.Valid():
			next.ServeHTTP(w, r)
		case result.Degraded:
			writeUnavailable(w)
		case result.Outcome == models.ChallengeExpired:
			writeChallengeRejected(w, models.ReasonChallengeExpired, "Challenge token has expired. Request a new one.")
		default:
			writeChallengeRejected(w, models.ReasonChallengeInvalid, "Challenge token is not valid.")
		}
	})
}
