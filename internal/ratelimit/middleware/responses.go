package middleware

import (
	"net/http"
	"strconv"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/httputil"
)

// unavailableRetrySeconds is the hint sent when a gate cannot decide.
const unavailableRetrySeconds = 5

// writeRateLimited answers 503 instead of 429 when the store was unreachable
// and the limiter failed closed.
func writeRateLimited(w http.ResponseWriter, result *models.RateLimitResult) {
	if result.Degraded {
		writeUnavailable(w)
		return
	}
	retry := result.RetryAfterSeconds()
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
	if result.Outcome == models.RateLimitBanned {
		httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RejectionResponse{
			Error:          models.ReasonBanned,
			Message:        "Too many requests. Access is temporarily suspended.",
			RetryAfter:     retry,
			ViolationCount: result.ViolationCount,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RejectionResponse{
		Error:          models.ReasonRateLimited,
		Message:        "Too many requests. Please try again later.",
		RetryAfter:     retry,
		ViolationCount: result.ViolationCount,
		Scope:          string(result.Scope),
	})
}

func writeChallengeRequired(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusForbidden, &models.RejectionResponse{
		Error:   models.ReasonChallengeRequired,
		Message: "A challenge token is required. Request one from /v1/challenge.",
	})
}

func writeChallengeRejected(w http.ResponseWriter, reason, message string) {
	httputil.WriteJSON(w, http.StatusForbidden, &models.RejectionResponse{
		Error:   reason,
		Message: message,
	})
}

func writeCostThrottled(w http.ResponseWriter, result *models.CostResult) {
	retry := result.RetryAfterSeconds()
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RejectionResponse{
		Error:      models.ReasonCostThrottled,
		Message:    "Recent usage is too high. Please slow down.",
		RetryAfter: retry,
	})
}

func writeGlobalCostLimit(w http.ResponseWriter, result *models.CostResult) {
	retry := result.RetryAfterSeconds()
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.RejectionResponse{
		Error:      models.ReasonGlobalCostLimitExceeded,
		Message:    "Service spend limit reached. Please try again later.",
		RetryAfter: retry,
		Scope:      string(result.Scope),
	})
}

func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(unavailableRetrySeconds))
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.RejectionResponse{
		Error:      models.ReasonServiceUnavailable,
		Message:    "Service is temporarily unavailable. Please try again later.",
		RetryAfter: unavailableRetrySeconds,
	})
}

// WriteIssueRejection writes the response for a challenge issuance that did
// not produce a token.
func WriteIssueRejection(w http.ResponseWriter, issue *models.ChallengeIssue) {
	switch issue.Outcome {
	case models.ChallengeIssueLimited:
		if issue.RateLimit != nil {
			writeRateLimited(w, issue.RateLimit)
			return
		}
		writeUnavailable(w)
	case models.ChallengeTooManyActive:
		httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RejectionResponse{
			Error:   models.ReasonTooManyActiveChallenges,
			Message: "Too many unused challenge tokens. Use or let one expire first.",
		})
	default:
		writeUnavailable(w)
	}
}
