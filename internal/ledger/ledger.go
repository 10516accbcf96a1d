// Package ledger is the authoritative record of who has paid for network time.
// Every other component either feeds it (coin credits), asks it (status), or
// follows it (packet filter enforcement, telemetry).
package ledger

import (
	"errors"
	"log"
	"sync"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/enforce"
	"pisowifi-backend/internal/models"
)

var (
	ErrNotFound = errors.New("no session for device")
	ErrNoRate   = errors.New("no rate configured")
	ErrBadInput = errors.New("invalid credit amount")
)

// Enforcer is the ledger's fire-and-forget view of the packet filter. The
// ledger's own state transition is already durable when these are called;
// enforcement lag never rolls it back.
type Enforcer interface {
	Grant(mac, ip string)
	Revoke(mac, ip string)
	Reconcile(bindings []enforce.Binding)
}

// SaleRecorder receives completed monetary transactions for upstream delivery.
type SaleRecorder interface {
	RecordSale(mac string, pesos int)
}

// entry is the in-memory countdown state for one active session. The sweep
// iterates these and nothing else, so its cost is bounded by the number of
// live sessions, not the size of the historical table.
type entry struct {
	id        int64
	mac       string
	ip        string
	remaining int64
	lastTick  time.Time
}

// Ledger owns the session state machine: none -> active -> expired|revoked.
// Mutual exclusion is per device key; credit applications to different
// devices never contend.
type Ledger struct {
	sessions *database.SessionRepo
	rates    *database.RateRepo
	audit    *database.AuditRepo
	enforcer Enforcer
	sales    SaleRecorder

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	active map[string]*entry
}

// New creates a ledger. enforcer and sales may be nil in tests.
func New(enforcer Enforcer, sales SaleRecorder) *Ledger {
	return &Ledger{
		sessions: database.NewSessionRepo(),
		rates:    database.NewRateRepo(),
		audit:    database.NewAuditRepo(),
		enforcer: enforcer,
		sales:    sales,
		locks:    make(map[string]*sync.Mutex),
		active:   make(map[string]*entry),
	}
}

// lockFor returns the mutex owning the given device key
func (l *Ledger) lockFor(mac string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[mac]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[mac] = lk
	}
	return lk
}

// Recover loads active sessions from storage back into the countdown index
// and re-derives the packet filter from them. Called once on startup; this is
// what makes a crash mid-Grant converge instead of drift.
func (l *Ledger) Recover() error {
	sessions, err := l.sessions.ListActive()
	if err != nil {
		return err
	}

	now := time.Now()
	bindings := make([]enforce.Binding, 0, len(sessions))

	l.mu.Lock()
	for _, s := range sessions {
		l.active[s.MAC] = &entry{
			id:        s.ID,
			mac:       s.MAC,
			ip:        s.IP,
			remaining: s.RemainingSeconds,
			lastTick:  now,
		}
		bindings = append(bindings, enforce.Binding{MAC: s.MAC, IP: s.IP})
	}
	l.mu.Unlock()

	if l.enforcer != nil {
		l.enforcer.Reconcile(bindings)
	}
	log.Printf("ledger: recovered %d active sessions", len(sessions))
	return nil
}

// ApplyCredit converts pesos into session time for a device, creating a new
// active session or extending the existing one. The returned token is
// non-empty only when a session was created. Atomic per device key: two coins
// in quick succession both land.
func (l *Ledger) ApplyCredit(mac, ip, deviceID string, pesos int) (*models.Session, string, error) {
	if pesos <= 0 {
		return nil, "", ErrBadInput
	}

	minutes, err := l.convert(pesos)
	if err != nil {
		return nil, "", err
	}
	seconds := int64(minutes) * 60

	lk := l.lockFor(mac)
	lk.Lock()
	defer lk.Unlock()

	session, err := l.sessions.GetActiveByMAC(mac)
	var token string
	switch {
	case err == nil:
		// active -> active, extend
		if err := l.sessions.AddCredit(session.ID, seconds, int64(pesos), ip); err != nil {
			return nil, "", err
		}
		session, err = l.sessions.GetByID(session.ID)
		if err != nil {
			return nil, "", err
		}
	case errors.Is(err, database.ErrSessionNotFound):
		// none -> active
		token, session, err = l.sessions.Create(mac, ip, deviceID, seconds, int64(pesos))
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", err
	}

	l.mu.Lock()
	l.active[mac] = &entry{
		id:        session.ID,
		mac:       mac,
		ip:        session.IP,
		remaining: session.RemainingSeconds,
		lastTick:  time.Now(),
	}
	l.mu.Unlock()

	// Row is durable; enforcement follows asynchronously.
	if l.enforcer != nil {
		l.enforcer.Grant(mac, session.IP)
	}
	if l.sales != nil {
		l.sales.RecordSale(mac, pesos)
	}

	return session, token, nil
}

// convert maps pesos to minutes using the rate table. Exact match first; an
// uncalibrated amount is converted greedily against descending rates, with
// any remainder valued at the smallest rate's minutes-per-peso. The result is
// never zero for a positive amount.
func (l *Ledger) convert(pesos int) (int, error) {
	if rate, err := l.rates.GetByPesos(pesos); err == nil {
		return rate.Minutes, nil
	} else if !errors.Is(err, database.ErrRateNotFound) {
		return 0, err
	}

	rates, err := l.rates.List()
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, ErrNoRate
	}

	minutes := 0
	remainder := pesos
	for i := len(rates) - 1; i >= 0; i-- {
		r := rates[i]
		for remainder >= r.Pesos {
			remainder -= r.Pesos
			minutes += r.Minutes
		}
	}
	if remainder > 0 {
		smallest := rates[0]
		minutes += remainder * smallest.Minutes / smallest.Pesos
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}

// GetStatus returns a read-only snapshot for a device. Never mutates.
func (l *Ledger) GetStatus(mac string) (*models.Session, error) {
	var cachedID, cachedRemaining int64
	l.mu.Lock()
	e, ok := l.active[mac]
	if ok {
		cachedID, cachedRemaining = e.id, e.remaining
	}
	l.mu.Unlock()

	session, err := l.sessions.GetActiveByMAC(mac)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// The in-memory countdown is fresher than the last persisted tick.
	if ok && cachedID == session.ID && cachedRemaining < session.RemainingSeconds {
		session.RemainingSeconds = cachedRemaining
	}
	return session, nil
}

// GetByToken resolves a session credential to its record
func (l *Ledger) GetByToken(token string) (*models.Session, error) {
	session, err := l.sessions.GetByToken(token)
	if errors.Is(err, database.ErrSessionNotFound) {
		return nil, ErrNotFound
	}
	return session, err
}

// ListActive returns all active sessions with fresh countdown values
func (l *Ledger) ListActive() ([]*models.Session, error) {
	sessions, err := l.sessions.ListActive()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range sessions {
		if e, ok := l.active[s.MAC]; ok && e.id == s.ID && e.remaining < s.RemainingSeconds {
			s.RemainingSeconds = e.remaining
		}
	}
	return sessions, nil
}

// ActiveCount returns the number of live sessions
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// UpdateEndpoint records a new MAC/IP observation for an existing session.
// Used when a device's randomized MAC changes mid-session.
func (l *Ledger) UpdateEndpoint(session *models.Session, mac, ip string) error {
	oldMAC := session.MAC
	lk := l.lockFor(oldMAC)
	lk.Lock()
	defer lk.Unlock()

	if err := l.sessions.UpdateEndpoint(session.ID, mac, ip); err != nil {
		return err
	}

	l.mu.Lock()
	if e, ok := l.active[oldMAC]; ok && e.id == session.ID {
		delete(l.active, oldMAC)
		e.mac = mac
		e.ip = ip
		l.active[mac] = e
	}
	l.mu.Unlock()

	if l.enforcer != nil {
		l.enforcer.Revoke(oldMAC, session.IP)
		l.enforcer.Grant(mac, ip)
	}
	return nil
}

// ExpireSweep decrements every live session by the wall time elapsed since
// its last tick and terminates the ones crossing zero. Idempotent: running
// twice at the same instant decrements nothing twice, and a session already
// handed to enforcement is never handed again.
func (l *Ledger) ExpireSweep(now time.Time) {
	l.mu.Lock()
	macs := make([]string, 0, len(l.active))
	for mac := range l.active {
		macs = append(macs, mac)
	}
	l.mu.Unlock()

	for _, mac := range macs {
		l.sweepOne(mac, now)
	}
}

// sweepOne re-reads the freshest record under the device lock, so a session
// extended concurrently in the same tick survives with its new balance.
// Entry fields are only ever touched under l.mu; status readers share it.
func (l *Ledger) sweepOne(mac string, now time.Time) {
	lk := l.lockFor(mac)
	lk.Lock()
	defer lk.Unlock()

	l.mu.Lock()
	e, ok := l.active[mac]
	if !ok {
		l.mu.Unlock()
		return // expired or revoked since the snapshot
	}

	elapsed := int64(now.Sub(e.lastTick) / time.Second)
	if elapsed <= 0 {
		l.mu.Unlock()
		return
	}

	e.remaining -= elapsed
	e.lastTick = e.lastTick.Add(time.Duration(elapsed) * time.Second)
	if e.remaining < 0 {
		e.remaining = 0
	}
	id, remaining, ip := e.id, e.remaining, e.ip
	l.mu.Unlock()

	if remaining > 0 {
		if err := l.sessions.UpdateCountdown(id, remaining); err != nil {
			log.Printf("ledger: countdown persist failed for %s: %v", mac, err)
		}
		return
	}

	// active -> expired, exactly once
	l.terminate(id, mac, ip, models.StateExpired)
}

// Revoke terminates a session by admin decision. Same terminal transition as
// natural expiry; the session is never resurrected.
func (l *Ledger) Revoke(mac, reason string) error {
	lk := l.lockFor(mac)
	lk.Lock()
	defer lk.Unlock()

	var id int64
	var ip string
	l.mu.Lock()
	e, ok := l.active[mac]
	if ok {
		id, ip = e.id, e.ip
	}
	l.mu.Unlock()
	if !ok {
		// Not in memory; still clear any lingering row.
		session, err := l.sessions.GetActiveByMAC(mac)
		if err != nil {
			if errors.Is(err, database.ErrSessionNotFound) {
				return ErrNotFound
			}
			return err
		}
		id, ip = session.ID, session.IP
	}

	l.terminate(id, mac, ip, models.StateRevoked)
	l.audit.Log(models.AuditSessionRevoke, "", mac, ip, map[string]string{"reason": reason})
	return nil
}

// terminate persists the terminal transition and hands the binding to
// enforcement. The repo refuses the update when the row is already terminal,
// which guarantees the revoke handoff happens at most once.
func (l *Ledger) terminate(id int64, mac, ip string, state models.SessionState) {
	err := l.sessions.MarkTerminal(id, state)

	l.mu.Lock()
	if cur, ok := l.active[mac]; ok && cur.id == id {
		delete(l.active, mac)
	}
	l.mu.Unlock()

	if err != nil {
		if !errors.Is(err, database.ErrSessionNotFound) {
			log.Printf("ledger: terminal transition failed for %s: %v", mac, err)
		}
		return // already terminal, revocation was already handed off
	}

	if l.enforcer != nil {
		l.enforcer.Revoke(mac, ip)
	}
	log.Printf("ledger: session %d (%s) -> %s", id, mac, state)
}

// PurgeIdle archives terminal rows older than the cutoff
func (l *Ledger) PurgeIdle(cutoff time.Time) (int64, error) {
	return l.sessions.PurgeTerminalBefore(cutoff)
}

// StartSession is the admin-driven grant: minutes are given directly rather
// than converted from the rate table.
func (l *Ledger) StartSession(mac string, minutes, pesos int, ip string) (*models.Session, string, error) {
	if minutes <= 0 {
		return nil, "", ErrBadInput
	}
	seconds := int64(minutes) * 60

	lk := l.lockFor(mac)
	lk.Lock()
	defer lk.Unlock()

	session, err := l.sessions.GetActiveByMAC(mac)
	var token string
	switch {
	case err == nil:
		if err := l.sessions.AddCredit(session.ID, seconds, int64(pesos), ip); err != nil {
			return nil, "", err
		}
		session, err = l.sessions.GetByID(session.ID)
		if err != nil {
			return nil, "", err
		}
	case errors.Is(err, database.ErrSessionNotFound):
		token, session, err = l.sessions.Create(mac, ip, "", seconds, int64(pesos))
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", err
	}

	l.mu.Lock()
	l.active[mac] = &entry{
		id:        session.ID,
		mac:       mac,
		ip:        session.IP,
		remaining: session.RemainingSeconds,
		lastTick:  time.Now(),
	}
	l.mu.Unlock()

	if l.enforcer != nil {
		l.enforcer.Grant(mac, session.IP)
	}
	l.audit.Log(models.AuditSessionStart, "", mac, ip, map[string]int{"minutes": minutes, "pesos": pesos})
	return session, token, nil
}
