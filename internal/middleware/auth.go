package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const callerContextKey contextKey = "caller"

// AnonymousCaller is the identity assigned to unauthenticated requests.
const AnonymousCaller = "anonymous"

// CallerIdentity extracts the caller from the Authorization bearer
// token (or the 'token' query parameter for WebSocket connections,
// which cannot set headers from browsers) and stores it on the request
// context. Token verification is delegated to the deployment's edge;
// the broker only needs a stable identity to scope subscriptions.
func CallerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := extractBearerToken(r)
		if caller == "" {
			caller = AnonymousCaller
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller retrieves the caller identity from the request context.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(callerContextKey).(string); ok {
		return caller
	}
	return AnonymousCaller
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return r.URL.Query().Get("token")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
