// Package middleware provides the HTTP middleware chain: JWT authentication,
// role gating, request logging, CORS, and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
)

type contextKey struct{ name string }

// claimsKey stores the verified auth.Claims of the current request.
var claimsKey = contextKey{"claims"}

// Auth returns middleware that verifies the Bearer token on every request
// and stores the resulting claims in the request context. Requests without a
// valid token are rejected with 401.
func Auth(tokens *auth.TokenMaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that rejects requests whose authenticated
// role differs from the required one. It must run after Auth.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if claims.Role != role {
				writeAuthError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom returns the verified claims stored by Auth, if any.
func ClaimsFrom(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(auth.Claims)
	return claims, ok
}

// WithClaims returns a context carrying the given claims. Test helper for
// handlers that read ClaimsFrom.
func WithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// extractToken looks for a token in the Authorization header (Bearer scheme).
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError sends an error response with a JSON body.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
