package jwt

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// ContextClaimsKey stores the verified *Claims of the caller in a request context.
const ContextClaimsKey contextKey = "auth_claims"

// BearerToken returns the token of an "Authorization: Bearer <token>" header, or "".
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// NewContext returns a copy of ctx carrying claims.
func NewContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ContextClaimsKey, claims)
}

// FromContext returns the claims stored by NewContext, or nil.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ContextClaimsKey).(*Claims)
	return claims
}
