package ledger

import (
	"context"
	"log"
	"time"

	"pisowifi-backend/internal/database"
)

// Sweeper drives the periodic expiry sweep and the long-idle cleanup of
// terminal rows. It stops cleanly when its context is cancelled.
type Sweeper struct {
	ledger   *Ledger
	settings *database.SettingsRepo
	interval time.Duration
}

// NewSweeper creates a sweeper ticking at the given interval (normally 1s)
func NewSweeper(l *Ledger, interval time.Duration) *Sweeper {
	return &Sweeper{
		ledger:   l,
		settings: database.NewSettingsRepo(),
		interval: interval,
	}
}

// Run ticks until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(1 * time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.ledger.ExpireSweep(now)
		case <-cleanup.C:
			s.purgeIdle()
		}
	}
}

func (s *Sweeper) purgeIdle() {
	days, err := s.settings.GetInt(database.SettingIdleCleanupDays)
	if err != nil || days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	purged, err := s.ledger.PurgeIdle(cutoff)
	if err != nil {
		log.Printf("sweeper: idle cleanup failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("sweeper: purged %d idle sessions", purged)
	}
}
