package middleware

import (
	"net/http"
	"strings"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/httputil"
	"chatguard/pkg/requestcontext"
)

// CostThrottle charges the request's estimated cost to the caller and to the
// global accumulators. The estimate comes from X-Estimated-Cost, or the
// configured default when the header is absent. The default is also the
// floor, so a client cannot lower its own charge below it.
func (m *Middleware) CostThrottle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cost == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		identifier := requestcontext.Identifier(ctx)

		estimate := m.cost.DefaultEstimate(ctx)
		if raw := strings.TrimSpace(r.Header.Get(HeaderEstimatedCost)); raw != "" {
			parsed, err := models.ParseMoney(raw)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			estimate = max(parsed, estimate)
		}

		result, err := m.cost.CheckAndRecord(ctx, identifier, estimate)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		switch result.Outcome {
		case models.CostThrottled:
			writeCostThrottled(w, result)
		case models.CostGlobalLimitExceeded:
			writeGlobalCostLimit(w, result)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
