// Package guard attaches a stable identity to each requesting device and
// flags anomalies without disconnecting paying customers. Its state is a pure
// in-memory cache rebuilt from traffic; losing it degrades strictness, never
// correctness.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/models"
)

// ErrDeviceMismatch is the hard failure for a token presented by a device it
// was never issued to. Fails closed, no retry.
var ErrDeviceMismatch = errors.New("device mismatch")

// RateLimitError is returned when a device exceeds the request window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// SessionResolver is the guard's view of the ledger for token cross-checks.
type SessionResolver interface {
	GetByToken(token string) (*models.Session, error)
	UpdateEndpoint(session *models.Session, mac, ip string) error
}

// Config holds guard thresholds.
type Config struct {
	MaxRequests int
	Window      time.Duration
	BlockTime   time.Duration
	MaxIPs      int
	ChurnWindow time.Duration
}

type ipSeen struct {
	class string
	at    time.Time
}

// fingerprint is the per-device record: a bounded sliding window of request
// times and a bounded history of IP classes.
type fingerprint struct {
	requests  []time.Time
	ips       []ipSeen
	firstSeen time.Time
	lastSeen  time.Time
	blockedAt time.Time
	flagged   bool
}

// Guard is the device identity and security layer. Every device-facing
// request passes through it before reaching the ledger.
type Guard struct {
	mu      sync.Mutex
	devices map[string]*fingerprint
	cfg     Config
	audit   *database.AuditRepo
	ledger  SessionResolver
}

// New creates a guard over the given session resolver
func New(cfg Config, ledger SessionResolver) *Guard {
	return &Guard{
		devices: make(map[string]*fingerprint),
		cfg:     cfg,
		audit:   database.NewAuditRepo(),
		ledger:  ledger,
	}
}

// EnsureDeviceID returns the device's stable fingerprint id, issuing a new
// one when the client presented none. The id survives MAC randomization
// because the client stores and replays it.
func (g *Guard) EnsureDeviceID(presented string) string {
	if _, err := uuid.Parse(presented); err == nil {
		return presented
	}
	return uuid.New().String()
}

// Check records a request from the device and enforces the rate limit. It
// also feeds the IP history for consistency scoring. Returns a RateLimitError
// with an explicit retry-after on breach.
func (g *Guard) Check(deviceID, mac, ip string) error {
	now := time.Now()

	g.mu.Lock()
	fp, ok := g.devices[deviceID]
	if !ok {
		fp = &fingerprint{firstSeen: now}
		g.devices[deviceID] = fp
	}
	fp.lastSeen = now

	// Temporary block from an earlier breach.
	if !fp.blockedAt.IsZero() {
		if until := fp.blockedAt.Add(g.cfg.BlockTime); now.Before(until) {
			retry := until.Sub(now)
			g.mu.Unlock()
			return &RateLimitError{RetryAfter: retry}
		}
		fp.blockedAt = time.Time{}
		fp.requests = fp.requests[:0]
	}

	// Slide the request window.
	cutoff := now.Add(-g.cfg.Window)
	kept := fp.requests[:0]
	for _, t := range fp.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	fp.requests = append(kept, now)

	if len(fp.requests) > g.cfg.MaxRequests {
		fp.blockedAt = now
		g.mu.Unlock()
		g.audit.Log(models.AuditRateLimited, deviceID, mac, ip,
			map[string]any{"requests": len(fp.requests), "window": g.cfg.Window.String()})
		return &RateLimitError{RetryAfter: g.cfg.BlockTime}
	}

	flag := g.observeIPLocked(fp, ip, now)
	g.mu.Unlock()

	if flag != "" {
		// Suspicious, but only ever flagged: a false positive must not
		// disconnect a paying customer.
		g.audit.Log(models.AuditIPChurn, deviceID, mac, ip, map[string]string{"detail": flag})
		log.Printf("guard: device %s flagged: %s", deviceID, flag)
	}
	return nil
}

// observeIPLocked appends the IP's network class to the history and returns a
// non-empty description when churn crosses the threshold for the first time.
func (g *Guard) observeIPLocked(fp *fingerprint, ip string, now time.Time) string {
	class := ipClass(ip)
	if class == "" {
		return ""
	}

	cutoff := now.Add(-g.cfg.ChurnWindow)
	kept := fp.ips[:0]
	for _, seen := range fp.ips {
		if seen.at.After(cutoff) {
			kept = append(kept, seen)
		}
	}
	fp.ips = kept

	known := false
	distinct := map[string]bool{}
	for _, seen := range fp.ips {
		distinct[seen.class] = true
		if seen.class == class {
			known = true
		}
	}
	if !known {
		fp.ips = append(fp.ips, ipSeen{class: class, at: now})
		distinct[class] = true
	}

	if len(distinct) > g.cfg.MaxIPs && !fp.flagged {
		fp.flagged = true
		return fmt.Sprintf("%d distinct network classes within %s", len(distinct), g.cfg.ChurnWindow)
	}
	return ""
}

// ValidateToken cross-checks a presented session token against the stored
// record. The token passes when the MAC matches, or when the device-id
// matches and only the MAC changed (privacy randomization); the latter is
// allowed but audited. Anything else is a hard device_mismatch.
func (g *Guard) ValidateToken(token, mac, ip, deviceID string) (*models.Session, error) {
	session, err := g.ledger.GetByToken(token)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(session.MAC, mac) {
		return session, nil
	}

	if deviceID != "" && session.DeviceID == deviceID {
		g.audit.Log(models.AuditMACChange, deviceID, mac, ip,
			map[string]string{"old_mac": session.MAC, "new_mac": mac})
		log.Printf("guard: device %s changed MAC %s -> %s", deviceID, session.MAC, mac)
		if err := g.ledger.UpdateEndpoint(session, mac, ip); err != nil {
			return nil, err
		}
		session.MAC = mac
		session.IP = ip
		return session, nil
	}

	g.audit.Log(models.AuditDeviceMismatch, deviceID, mac, ip,
		map[string]string{"session_mac": session.MAC})
	return nil, ErrDeviceMismatch
}

// Run periodically drops stale fingerprints until ctx is cancelled
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.cleanup(now)
		}
	}
}

func (g *Guard) cleanup(now time.Time) {
	stale := now.Add(-2 * g.cfg.ChurnWindow)
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, fp := range g.devices {
		blockOver := fp.blockedAt.IsZero() || now.Sub(fp.blockedAt) > g.cfg.BlockTime
		if fp.lastSeen.Before(stale) && blockOver {
			delete(g.devices, id)
		}
	}
}

// ipClass reduces an IP to its network class for churn comparison: /24 for
// IPv4, /48 for IPv6.
func ipClass(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
