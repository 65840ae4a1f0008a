package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/apexlabs-backend/api/middleware"
	"github.com/angelmondragon/apexlabs-backend/api/responses"
	"github.com/angelmondragon/apexlabs-backend/api/validators"
	"github.com/angelmondragon/apexlabs-backend/internal/auth"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

// AdminLogin verifies the shared admin password, sets the session cookie and
// returns the same token for bearer clients.
func AdminLogin(svc auth.Service, cfg config.AdminConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.CookieName,
			Value:    result.Token,
			Path:     "/",
			Expires:  result.ExpiresAt,
			HttpOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		responses.WriteSuccess(w, result)
	}
}

// AdminLogout revokes the current session and clears the cookie.
func AdminLogout(svc auth.Service, cfg config.AdminConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		if err := svc.Logout(r.Context(), middleware.SessionIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.CookieName,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}
