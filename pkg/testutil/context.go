package testutil

import (
	"net/http"
	"time"

	"chatguard/pkg/requestcontext"
)

// WithIdentity adds a resolved caller to the request context.
// This simulates what the identity middleware does for inbound requests.
func WithIdentity(req *http.Request, identifier, clientIP string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), clientIP, req.UserAgent())
	ctx = requestcontext.WithIdentifier(ctx, identifier)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
