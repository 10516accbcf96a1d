package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/ledger"
	"pisowifi-backend/internal/models"
)

// listSessionsHandler handles GET /api/sessions
func listSessionsHandler(c echo.Context) error {
	sessions, err := deps.Ledger.ListActive()
	if err != nil {
		c.Logger().Error("list sessions error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// startSessionHandler handles POST /api/sessions
func startSessionHandler(c echo.Context) error {
	var req struct {
		MAC     string `json:"mac"`
		Minutes int    `json:"minutes"`
		Pesos   int    `json:"pesos"`
		IP      string `json:"ip"`
	}
	if err := c.Bind(&req); err != nil || req.MAC == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mac is required"})
	}

	session, _, err := deps.Ledger.StartSession(req.MAC, req.Minutes, req.Pesos, req.IP)
	if err != nil {
		if errors.Is(err, ledger.ErrBadInput) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "minutes must be positive"})
		}
		c.Logger().Error("start session error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start session"})
	}
	return c.JSON(http.StatusCreated, session)
}

// revokeSessionHandler handles DELETE /api/sessions/:mac
func revokeSessionHandler(c echo.Context) error {
	mac := c.Param("mac")

	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "admin revoke"
	}
	if admin := adminFromContext(c); admin != nil {
		reason += " by " + admin.Username
	}

	if err := deps.Ledger.Revoke(mac, reason); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
		}
		c.Logger().Error("revoke error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to revoke session"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

// listAuditHandler handles GET /api/audit
func listAuditHandler(c echo.Context) error {
	filter := models.AuditFilter{
		Action:   c.QueryParam("action"),
		DeviceID: c.QueryParam("device_id"),
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		filter.Offset = offset
	}

	logs, total, err := auditRepo.List(filter)
	if err != nil {
		c.Logger().Error("audit list error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list audit logs"})
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
	})
}

// listUnappliedCreditsHandler handles GET /api/credits/unapplied, showing
// money that entered the machine but was never converted to session time
func listUnappliedCreditsHandler(c echo.Context) error {
	credits, err := creditRepo.ListUnapplied()
	if err != nil {
		c.Logger().Error("unapplied credits error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list credits"})
	}
	if credits == nil {
		credits = []*models.CoinCredit{}
	}
	return c.JSON(http.StatusOK, credits)
}

// machineStatusHandler handles GET /api/status
func machineStatusHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"active_sessions": deps.Ledger.ActiveCount(),
		"sync_queue":      deps.Queue.Depth(),
		"uptime_seconds":  int64(time.Since(deps.StartedAt).Seconds()),
	})
}

// getSettingsHandler handles GET /api/settings
func getSettingsHandler(c echo.Context) error {
	settings, err := settingsRepo.All()
	if err != nil {
		c.Logger().Error("settings error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
	}
	return c.JSON(http.StatusOK, settings)
}

// putSettingHandler handles PUT /api/settings/:key
func putSettingHandler(c echo.Context) error {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	key := c.Param("key")
	if err := settingsRepo.Set(key, req.Value); err != nil {
		c.Logger().Error("setting update error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update setting"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

// rateRepoNotFound maps repo errors for the rate handlers
func rateRepoNotFound(err error) bool {
	return errors.Is(err, database.ErrRateNotFound)
}
