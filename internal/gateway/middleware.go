package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/session"
)

type ctxKey int

const claimsKey ctxKey = 0

// claimsFrom returns the validated token claims attached by requireAuth.
func claimsFrom(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey).(*session.Claims)
	return claims
}

// requireAuth validates the bearer token and attaches its claims to the
// request context.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeader)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := g.sessions.Validate(token)
		if err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// requirePermission gates a route on the token's role.
func (g *Gateway) requirePermission(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil || !session.RoleHasPermission(claims.Role, name) {
				writeError(w, http.StatusForbidden, CodeForbidden, "permission denied: "+name)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
