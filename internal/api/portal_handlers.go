package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/guard"
	"pisowifi-backend/internal/ledger"
	"pisowifi-backend/internal/models"
)

const deviceIDCookie = "device_id"

// clientIdentity extracts the device key for a portal request: MAC from the
// request, fingerprint id from cookie or header. The fingerprint cookie is
// (re)issued on every response so it survives MAC randomization.
func clientIdentity(c echo.Context, mac string) (deviceID, ip string) {
	presented := c.Request().Header.Get("X-Device-ID")
	if presented == "" {
		if cookie, err := c.Cookie(deviceIDCookie); err == nil {
			presented = cookie.Value
		}
	}
	deviceID = deps.Guard.EnsureDeviceID(presented)

	c.SetCookie(&http.Cookie{
		Name:     deviceIDCookie,
		Value:    deviceID,
		Path:     "/",
		MaxAge:   365 * 24 * 3600,
		SameSite: http.SameSiteLaxMode,
	})
	return deviceID, c.RealIP()
}

// guardCheck runs the security guard and writes the rejection when the
// device is over its request budget.
func guardCheck(c echo.Context, deviceID, mac, ip string) bool {
	if err := deps.Guard.Check(deviceID, mac, ip); err != nil {
		var rle *guard.RateLimitError
		if errors.As(err, &rle) {
			retryAfter := int(rle.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
			return false
		}
		c.JSON(http.StatusForbidden, map[string]string{"error": "not authorized"})
		return false
	}
	return true
}

// portalStatusHandler handles GET /api/portal/status?mac=...
func portalStatusHandler(c echo.Context) error {
	mac := c.QueryParam("mac")
	if mac == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mac is required"})
	}

	deviceID, ip := clientIdentity(c, mac)
	if !guardCheck(c, deviceID, mac, ip) {
		return nil
	}

	// When the client presents its session token, cross-check it; a token
	// stolen by another device is a hard rejection with no detail leaked.
	if token := sessionTokenFromRequest(c); token != "" {
		session, err := deps.Guard.ValidateToken(token, mac, ip, deviceID)
		if err == nil {
			return c.JSON(http.StatusOK, statusOf(session))
		}
		if errors.Is(err, guard.ErrDeviceMismatch) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "not authorized"})
		}
		// Fall through to the MAC lookup for expired/unknown tokens.
	}

	session, err := deps.Ledger.GetStatus(mac)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusOK, &models.StatusResponse{Connected: false})
		}
		c.Logger().Error("portal status error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
	}
	return c.JSON(http.StatusOK, statusOf(session))
}

// portalClaimHandler handles POST /api/portal/claim
func portalClaimHandler(c echo.Context) error {
	var req struct {
		MAC string `json:"mac"`
	}
	if err := c.Bind(&req); err != nil || req.MAC == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mac is required"})
	}

	deviceID, ip := clientIdentity(c, req.MAC)
	if !guardCheck(c, deviceID, req.MAC, ip) {
		return nil
	}

	until, err := deps.Dispatcher.Claim(req.MAC, ip, deviceID)
	if err != nil {
		c.Logger().Error("portal claim error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "claim failed"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"claimed_until": until,
		"device_id":     deviceID,
	})
}

// portalCreditHandler handles POST /api/portal/credit, the credit-insert
// webhook used by cashless payment relays.
func portalCreditHandler(c echo.Context) error {
	var req struct {
		MAC   string `json:"mac"`
		Pesos int    `json:"pesos"`
	}
	if err := c.Bind(&req); err != nil || req.MAC == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mac is required"})
	}

	deviceID, ip := clientIdentity(c, req.MAC)
	if !guardCheck(c, deviceID, req.MAC, ip) {
		return nil
	}

	session, token, err := deps.Ledger.ApplyCredit(req.MAC, ip, deviceID, req.Pesos)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrBadInput):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		case errors.Is(err, ledger.ErrNoRate):
			c.Logger().Error("portal credit: no rates configured")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "not available"})
		default:
			c.Logger().Error("portal credit error: ", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "credit failed"})
		}
	}

	resp := map[string]interface{}{"status": statusOf(session)}
	if token != "" {
		c.SetCookie(&http.Cookie{
			Name:     "session_token",
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		resp["token"] = token
	}
	return c.JSON(http.StatusOK, resp)
}

func sessionTokenFromRequest(c echo.Context) string {
	if cookie, err := c.Cookie("session_token"); err == nil {
		return cookie.Value
	}
	return c.Request().Header.Get("X-Session-Token")
}

func statusOf(session *models.Session) *models.StatusResponse {
	return &models.StatusResponse{
		Connected:        session.Active(),
		RemainingSeconds: session.RemainingSeconds,
		TotalPaid:        session.TotalPaid,
		MAC:              session.MAC,
	}
}
