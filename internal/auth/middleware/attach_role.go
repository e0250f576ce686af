package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// RoleLookup returns the stored role of a user, or "" for an unknown user.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

// AttachRoleFromStore replaces the token's role with the stored one, so a role
// change applies before the token expires. allowClaimFallback=true in
// offline mode keeps the claim for users missing from the store.
func AttachRoleFromStore(users RoleLookup, allowClaimFallback bool, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := rbac.SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx) // set by JWTMiddleware

			role, err := users.RoleOf(ctx, sub)
			switch {
			case err != nil:
				log.ErrorContext(ctx, "role lookup failed", slog.String("sub", sub), slog.Any("err", err))
				http.Error(w, "forbidden", http.StatusForbidden)
			case role != "":
				// Authoritative stored role
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case allowClaimFallback && claimRole != "":
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
