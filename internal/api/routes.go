package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/auth"
	"pisowifi-backend/internal/coin"
	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/guard"
	"pisowifi-backend/internal/ledger"
	"pisowifi-backend/internal/syncq"
)

// Deps are the services the API surface dispatches into. Everything is
// constructed in main and injected; the handlers own nothing.
type Deps struct {
	Auth          *auth.Service
	Ledger        *ledger.Ledger
	Guard         *guard.Guard
	Dispatcher    *coin.Dispatcher
	Aggregator    *coin.Aggregator
	Queue         *syncq.Queue
	LoginLimiter  *auth.RateLimiter
	HardwareToken string
	StartedAt     time.Time
}

var (
	deps         Deps
	rateRepo     *database.RateRepo
	auditRepo    *database.AuditRepo
	settingsRepo *database.SettingsRepo
	creditRepo   *database.CreditRepo
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(api *echo.Group, d Deps) {
	deps = d
	rateRepo = database.NewRateRepo()
	auditRepo = database.NewAuditRepo()
	settingsRepo = database.NewSettingsRepo()
	creditRepo = database.NewCreditRepo()

	// Health check (public)
	api.GET("/health", healthCheck)

	// Captive portal routes (public, guard-gated inside the handlers)
	portal := api.Group("/portal")
	portal.GET("/status", portalStatusHandler)
	portal.POST("/claim", portalClaimHandler)
	portal.POST("/credit", portalCreditHandler)

	// Coin controller firmware
	api.GET("/hw/pulses", pulseWebSocketHandler)

	// Admin auth (public login, rate limited)
	authGroup := api.Group("/auth")
	authGroup.POST("/login", loginHandler, d.LoginLimiter.Middleware())
	authGroup.POST("/logout", logoutHandler)
	authGroup.GET("/me", currentAdminHandler)

	// Admin routes (session auth required)
	admin := api.Group("")
	admin.Use(auth.RequireAuth(d.Auth))
	admin.GET("/sessions", listSessionsHandler)
	admin.POST("/sessions", startSessionHandler)
	admin.DELETE("/sessions/:mac", revokeSessionHandler)
	admin.GET("/rates", listRatesHandler)
	admin.POST("/rates", createRateHandler)
	admin.PUT("/rates/:id", updateRateHandler)
	admin.DELETE("/rates/:id", deleteRateHandler)
	admin.GET("/audit", listAuditHandler)
	admin.GET("/credits/unapplied", listUnappliedCreditsHandler)
	admin.GET("/status", machineStatusHandler)
	admin.GET("/settings", getSettingsHandler)
	admin.PUT("/settings/:key", putSettingHandler)
}

// healthCheck handles GET /api/health
func healthCheck(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}
