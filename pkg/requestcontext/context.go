// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; gate services read them without importing net/http.
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//	identifier := requestcontext.Identifier(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithIdentifier(ctx, "id_test")
package requestcontext

import (
	"context"
	"time"
)

type (
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	identifierKey  struct{}
	sharedKey      struct{}
	bypassKey      struct{}
)

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the resolved client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Caller identity
// -----------------------------------------------------------------------------

// Identifier retrieves the opaque caller identifier used for rate and cost accounting.
func Identifier(ctx context.Context) string {
	if identifier, ok := ctx.Value(identifierKey{}).(string); ok {
		return identifier
	}
	return ""
}

// SharedIdentity reports whether the caller had no derivable identity and was
// folded into the shared high-risk identifier.
func SharedIdentity(ctx context.Context) bool {
	shared, _ := ctx.Value(sharedKey{}).(bool)
	return shared
}

// WithIdentifier injects a caller identifier into the context.
func WithIdentifier(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, identifierKey{}, identifier)
}

// WithSharedIdentity marks the context as carrying the shared identifier.
func WithSharedIdentity(ctx context.Context, shared bool) context.Context {
	return context.WithValue(ctx, sharedKey{}, shared)
}

// Allowlisted reports whether the caller bypasses the rate and challenge gates.
func Allowlisted(ctx context.Context) bool {
	bypass, _ := ctx.Value(bypassKey{}).(bool)
	return bypass
}

// WithAllowlisted marks the caller as allowlisted.
func WithAllowlisted(ctx context.Context, allowlisted bool) context.Context {
	return context.WithValue(ctx, bypassKey{}, allowlisted)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
