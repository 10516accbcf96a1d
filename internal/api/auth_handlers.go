package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/auth"
	"pisowifi-backend/internal/models"
)

// loginHandler handles POST /api/auth/login
func loginHandler(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "username and password are required",
		})
	}

	resp, err := deps.Auth.Login(req, c.RealIP())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid username or password",
			})
		}
		c.Logger().Error("login error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "authentication failed",
		})
	}

	deps.LoginLimiter.RecordSuccess(c.RealIP())

	// Set token in cookie (HttpOnly for security)
	c.SetCookie(&http.Cookie{
		Name:     "admin_token",
		Value:    resp.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request().TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"admin":      resp.Admin,
		"token":      resp.Token,
		"expires_at": resp.ExpiresAt,
	})
}

// logoutHandler handles POST /api/auth/logout
func logoutHandler(c echo.Context) error {
	token := auth.TokenFromRequest(c)
	if token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no session token"})
	}

	if err := deps.Auth.Logout(token); err != nil {
		c.Logger().Error("logout error: ", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     "admin_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// currentAdminHandler handles GET /api/auth/me
func currentAdminHandler(c echo.Context) error {
	token := auth.TokenFromRequest(c)
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}

	admin, session, err := deps.Auth.ValidateToken(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired session"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"admin":      admin,
		"expires_at": session.ExpiresAt,
	})
}

// adminFromContext returns the authenticated admin set by RequireAuth
func adminFromContext(c echo.Context) *models.Admin {
	admin, _ := c.Get(auth.ContextKeyAdmin).(*models.Admin)
	return admin
}
