package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"gatekeeper/internal/domain"
)

type claimsKey struct{}

var errMissingBearer = errors.New("missing or malformed Authorization header")

func extractClaims(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errMissingBearer
	}
	return ValidateJWT(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := extractClaims(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireRole returns 401 without a valid token and 403 when the token's role
// differs from role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Role != role {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func IsAdmin(next http.Handler) http.Handler {
	return RequireRole(domain.RoleAdmin)(next)
}

// ClaimsFromContext returns the claims stored by RequireAuth or RequireRole.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// GetUserIDFromRequest returns the user behind an optional bearer token. The
// activity logger calls it for every request, so a missing or invalid token
// simply yields nil.
func GetUserIDFromRequest(r *http.Request) *uint64 {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.UserID != 0 {
		id := claims.UserID
		return &id
	}

	claims, err := extractClaims(r)
	if err != nil || claims.UserID == 0 {
		return nil
	}
	id := claims.UserID
	return &id
}
