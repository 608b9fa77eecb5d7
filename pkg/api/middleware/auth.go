// Package middleware provides HTTP middleware for the usbsas front-end API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/usbsas/pkg/auth"
)

type contextKey string

const claimsContextKey contextKey = "admin_claims"

// ClaimsFromContext retrieves the admin JWT claims from the request
// context. Returns nil if AdminAuth hasn't run on this request.
func ClaimsFromContext(ctx context.Context) *auth.AdminClaims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.AdminClaims)
	if !ok {
		return nil
	}
	return claims
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// AdminAuth validates a Bearer admin JWT and stores its claims in the
// request context. It guards the admin session-listing/force-teardown
// surface — distinct from the per-session HMAC path
// tokens, which are verified inline by pkg/session, not by middleware.
func AdminAuth(svc *auth.AdminJWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			claims, err := svc.Verify(tokenStr)
			if err != nil {
				http.Error(w, "invalid or expired admin token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
