package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pisowifi-backend/internal/api"
	"pisowifi-backend/internal/auth"
	"pisowifi-backend/internal/coin"
	"pisowifi-backend/internal/config"
	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/enforce"
	"pisowifi-backend/internal/guard"
	"pisowifi-backend/internal/ledger"
	"pisowifi-backend/internal/models"
	"pisowifi-backend/internal/syncq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	log.Printf("Initializing database at %s", cfg.DB.Path)
	if err := database.Open(database.Config{Path: cfg.DB.Path}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Create default admin account if none exists
	if err := createDefaultAdminIfNeeded(); err != nil {
		log.Printf("Warning: failed to create default admin: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Packet filter backend
	var backend enforce.Enforcer
	switch cfg.Enforce.Backend {
	case "noop":
		log.Println("Enforcement disabled (noop backend)")
		backend = enforce.Noop{}
	default:
		ipt := enforce.NewIPTables(nil, cfg.Enforce.WANInterface)
		chainCtx, cancel := context.WithTimeout(ctx, cfg.Enforce.CommandTimeout)
		if err := ipt.EnsureChains(chainCtx); err != nil {
			log.Printf("Warning: failed to prepare iptables chains: %v", err)
		}
		cancel()
		backend = ipt
	}
	synchronizer := enforce.NewSynchronizer(backend, cfg.Enforce.CommandTimeout, cfg.Enforce.RetryAttempts)
	go synchronizer.Run(ctx)

	// Telemetry queue; the metrics closure reads the ledger built below.
	started := time.Now()
	var led *ledger.Ledger
	client := syncq.NewClient(syncq.ClientConfig{
		BaseURL:           cfg.Sync.UpstreamURL,
		Timeout:           cfg.Sync.RequestTimeout,
		OAuthClientID:     cfg.Sync.OAuthClientID,
		OAuthClientSecret: cfg.Sync.OAuthClientSecret,
		OAuthTokenURL:     cfg.Sync.OAuthTokenURL,
	})
	var poster syncq.Poster
	if client != nil {
		poster = client
	} else {
		log.Println("No upstream collector configured; sync items stay local")
	}
	queue := syncq.New(poster, cfg.Sync.MachineID, cfg.Sync.MaxRetries,
		cfg.Sync.FlushInterval, cfg.Sync.HeartbeatInterval, func() map[string]any {
			metrics := map[string]any{"uptime_seconds": int64(time.Since(started).Seconds())}
			if led != nil {
				metrics["active_sessions"] = led.ActiveCount()
			}
			return metrics
		})

	// Session ledger and its expiry sweep
	led = ledger.New(synchronizer, queue)
	if err := led.Recover(); err != nil {
		log.Fatalf("Failed to recover active sessions: %v", err)
	}
	go queue.Run(ctx)
	go ledger.NewSweeper(led, time.Second).Run(ctx)

	// Security guard
	sentry := guard.New(guard.Config{
		MaxRequests: cfg.Guard.MaxRequests,
		Window:      cfg.Guard.Window,
		BlockTime:   cfg.Guard.BlockTime,
		MaxIPs:      cfg.Guard.MaxIPs,
		ChurnWindow: cfg.Guard.ChurnWindow,
	}, led)
	go sentry.Run(ctx)

	// Coin pipeline: pulses -> windows -> credits -> ledger
	slot := coin.NewSlot(cfg.Coin.ClaimTTL)
	dispatcher := coin.NewDispatcher(slot, led, cfg.Coin.ClaimTTL)
	aggregator := coin.NewAggregator(cfg.Coin.Debounce, cfg.Coin.Settle,
		cfg.Coin.Denominations, cfg.Coin.Fallback, dispatcher.Handle)
	go aggregator.Run(ctx)

	authSvc := auth.NewService()

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Device-ID", "X-Session-Token"},
		AllowCredentials: true,
	}))

	// API routes
	apiGroup := e.Group("/api")
	api.RegisterRoutes(apiGroup, api.Deps{
		Auth:          authSvc,
		Ledger:        led,
		Guard:         sentry,
		Dispatcher:    dispatcher,
		Aggregator:    aggregator,
		Queue:         queue,
		LoginLimiter:  auth.DefaultRateLimiter(),
		HardwareToken: cfg.Coin.HardwareToken,
		StartedAt:     started,
	})

	go func() {
		log.Printf("Starting pisowifi backend on port %s", cfg.Server.Port)
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// createDefaultAdminIfNeeded creates a default admin account if none exist
func createDefaultAdminIfNeeded() error {
	adminRepo := database.NewAdminRepo()

	count, err := adminRepo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // Admins already exist
	}

	log.Println("Creating default admin account (admin/admin) - CHANGE THIS PASSWORD!")

	passwordHash, err := auth.HashPassword("admin")
	if err != nil {
		return err
	}

	return adminRepo.Create(&models.Admin{
		Username:     "admin",
		PasswordHash: passwordHash,
	})
}
