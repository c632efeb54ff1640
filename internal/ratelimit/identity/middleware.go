package identity

import (
	"log/slog"
	"net/http"

	"chatguard/pkg/requestcontext"
)

// Identify resolves the caller and stores the identifier, client IP and
// User-Agent in the request context for the gates downstream.
func Identify(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolver.Resolve(r)
			ctx := r.Context()
			if id.Shared {
				logger.WarnContext(ctx, "caller has no derivable address, using shared identity",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
			}
			ctx = requestcontext.WithClientMetadata(ctx, id.ClientIP, r.Header.Get("User-Agent"))
			ctx = requestcontext.WithIdentifier(ctx, id.Identifier)
			ctx = requestcontext.WithSharedIdentity(ctx, id.Shared)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
