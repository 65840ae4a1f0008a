package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	pkgAuth "github.com/angelmondragon/apexlabs-backend/pkg/auth"
	"github.com/angelmondragon/apexlabs-backend/pkg/auth/session"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

// AdminAuth accepts the admin JWT from the session cookie or a bearer header,
// checks the backing Redis session and seeds the request context with it.
func AdminAuth(cfg config.JWTConfig, cookieName string, verifier session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := adminToken(r, cookieName)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAdminToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if verifier != nil {
				ok, err := verifier.HasSession(r.Context(), claims.ID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				}
				if !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxSessionID, claims.ID)
			ctx = context.WithValue(ctx, ctxRole, claims.Role)
			if logg != nil {
				ctx = logg.WithSession(ctx, claims.ID, claims.Role)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminToken prefers the Authorization header so CLI clients can override a
// stale browser cookie.
func adminToken(r *http.Request, cookieName string) string {
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return raw
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
