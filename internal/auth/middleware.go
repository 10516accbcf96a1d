package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Context keys for storing admin data
const (
	ContextKeyAdmin   = "admin"
	ContextKeySession = "admin_session"
)

// RequireAuth middleware checks for a valid admin session
func RequireAuth(authSvc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
			}

			admin, session, err := authSvc.ValidateToken(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid or expired session",
				})
			}

			c.Set(ContextKeyAdmin, admin)
			c.Set(ContextKeySession, session)

			return next(c)
		}
	}
}

// TokenFromRequest extracts the session token from the Authorization header
// or the session cookie
func TokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("admin_token"); err == nil {
		return cookie.Value
	}
	return ""
}
