package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/enforce"
	"pisowifi-backend/internal/models"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "ledger-test-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := database.Open(database.Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := m.Run()

	database.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

// recordingEnforcer counts grant/revoke/reconcile handoffs.
type recordingEnforcer struct {
	mu        sync.Mutex
	grants    []string
	revokes   []string
	reconcile [][]enforce.Binding
}

func (r *recordingEnforcer) Grant(mac, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, mac)
}

func (r *recordingEnforcer) Revoke(mac, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokes = append(r.revokes, mac)
}

func (r *recordingEnforcer) Reconcile(bindings []enforce.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcile = append(r.reconcile, bindings)
}

func (r *recordingEnforcer) revokesFor(mac string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.revokes {
		if m == mac {
			n++
		}
	}
	return n
}

func (r *recordingEnforcer) grantsFor(mac string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.grants {
		if m == mac {
			n++
		}
	}
	return n
}

// recordingSales captures RecordSale calls.
type recordingSales struct {
	mu    sync.Mutex
	sales []int
}

func (r *recordingSales) RecordSale(_ string, pesos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales = append(r.sales, pesos)
}

func TestApplyCreditCreatesSession(t *testing.T) {
	enf := &recordingEnforcer{}
	sales := &recordingSales{}
	l := New(enf, sales)
	mac := "02:00:00:00:01:01"

	// Default rate card values 5 pesos at 30 minutes.
	session, token, err := l.ApplyCredit(mac, "10.0.0.10", "dev-1", 5)
	if err != nil {
		t.Fatalf("ApplyCredit() error: %v", err)
	}
	if token == "" {
		t.Error("no token issued for a new session")
	}
	if session.RemainingSeconds != 1800 {
		t.Errorf("remaining = %d, want 1800", session.RemainingSeconds)
	}
	if session.State != models.StateActive {
		t.Errorf("state = %s, want active", session.State)
	}
	if enf.grantsFor(mac) != 1 {
		t.Errorf("grants = %d, want 1", enf.grantsFor(mac))
	}

	sales.mu.Lock()
	defer sales.mu.Unlock()
	if len(sales.sales) != 1 || sales.sales[0] != 5 {
		t.Errorf("sales = %v, want [5]", sales.sales)
	}
}

func TestApplyCreditExtendsExistingSession(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:02"

	_, token1, err := l.ApplyCredit(mac, "10.0.0.11", "dev-2", 5)
	if err != nil {
		t.Fatal(err)
	}
	session, token2, err := l.ApplyCredit(mac, "10.0.0.11", "dev-2", 1)
	if err != nil {
		t.Fatal(err)
	}

	if token1 == "" || token2 != "" {
		t.Errorf("tokens = (%q, %q); only the first credit creates one", token1, token2)
	}
	if session.RemainingSeconds != 1800+300 {
		t.Errorf("remaining = %d, want 2100", session.RemainingSeconds)
	}
	if session.TotalPaid != 6 {
		t.Errorf("total paid = %d, want 6", session.TotalPaid)
	}
}

func TestApplyCreditConcurrentCoinsAllLand(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:03"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.ApplyCredit(mac, "10.0.0.12", "dev-3", 1); err != nil {
				t.Errorf("concurrent ApplyCredit() error: %v", err)
			}
		}()
	}
	wg.Wait()

	session, err := l.GetStatus(mac)
	if err != nil {
		t.Fatal(err)
	}
	// 10 coins at 1 peso / 5 minutes each.
	if session.RemainingSeconds != 10*300 {
		t.Errorf("remaining = %d, want 3000", session.RemainingSeconds)
	}
	if session.TotalPaid != 10 {
		t.Errorf("total paid = %d, want 10", session.TotalPaid)
	}
}

func TestApplyCreditUncalibratedAmount(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:04"

	// 7 pesos has no exact rate: greedy 5+1+1 = 30+5+5 = 40 minutes.
	session, _, err := l.ApplyCredit(mac, "10.0.0.13", "dev-4", 7)
	if err != nil {
		t.Fatal(err)
	}
	if session.RemainingSeconds != 40*60 {
		t.Errorf("remaining = %d, want 2400", session.RemainingSeconds)
	}
}

func TestApplyCreditRejectsNonPositive(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	if _, _, err := l.ApplyCredit("02:00:00:00:01:05", "10.0.0.14", "dev-5", 0); !errors.Is(err, ErrBadInput) {
		t.Errorf("error = %v, want ErrBadInput", err)
	}
}

func TestSweepDecrementsOncePerInstant(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:06"

	session, _, err := l.ApplyCredit(mac, "10.0.0.15", "dev-6", 5)
	if err != nil {
		t.Fatal(err)
	}
	start := session.RemainingSeconds

	at := time.Now().Add(10 * time.Second)
	l.ExpireSweep(at)
	l.ExpireSweep(at) // same instant, must not decrement again

	got, err := l.GetStatus(mac)
	if err != nil {
		t.Fatal(err)
	}
	drained := start - got.RemainingSeconds
	if drained < 9 || drained > 11 {
		t.Errorf("drained %d seconds across a repeated 10s sweep, want ~10", drained)
	}
}

func TestSweepExpiresAndHandsOffExactlyOnce(t *testing.T) {
	enf := &recordingEnforcer{}
	l := New(enf, nil)
	mac := "02:00:00:00:01:07"

	if _, _, err := l.ApplyCredit(mac, "10.0.0.16", "dev-7", 1); err != nil {
		t.Fatal(err)
	}

	at := time.Now().Add(time.Hour)
	l.ExpireSweep(at)
	l.ExpireSweep(at.Add(time.Second)) // session already terminal

	if _, err := l.GetStatus(mac); !errors.Is(err, ErrNotFound) {
		t.Errorf("status after expiry = %v, want ErrNotFound", err)
	}
	if n := enf.revokesFor(mac); n != 1 {
		t.Errorf("revoke handoffs = %d, want exactly 1", n)
	}

	// Expired sessions never resurrect; new money starts a fresh session.
	session, token, err := l.ApplyCredit(mac, "10.0.0.16", "dev-7", 1)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Error("no token for the fresh session after expiry")
	}
	if session.RemainingSeconds != 300 {
		t.Errorf("fresh session remaining = %d, want 300", session.RemainingSeconds)
	}
}

func TestExtensionDuringSweepSurvives(t *testing.T) {
	enf := &recordingEnforcer{}
	l := New(enf, nil)
	mac := "02:00:00:00:01:08"

	if _, _, err := l.ApplyCredit(mac, "10.0.0.17", "dev-8", 1); err != nil {
		t.Fatal(err)
	}
	// Top up before the balance runs out, then sweep past the original
	// expiry. The extension must keep the session alive.
	if _, _, err := l.ApplyCredit(mac, "10.0.0.17", "dev-8", 10); err != nil {
		t.Fatal(err)
	}

	l.ExpireSweep(time.Now().Add(6 * time.Minute))

	session, err := l.GetStatus(mac)
	if err != nil {
		t.Fatalf("session expired despite extension: %v", err)
	}
	if !session.Active() {
		t.Errorf("state = %s with %ds, want active", session.State, session.RemainingSeconds)
	}
	if n := enf.revokesFor(mac); n != 0 {
		t.Errorf("revoke handoffs = %d, want 0", n)
	}
}

func TestRevoke(t *testing.T) {
	enf := &recordingEnforcer{}
	l := New(enf, nil)
	mac := "02:00:00:00:01:09"

	if err := l.Revoke(mac, "test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoke of absent session = %v, want ErrNotFound", err)
	}

	if _, _, err := l.ApplyCredit(mac, "10.0.0.18", "dev-9", 5); err != nil {
		t.Fatal(err)
	}
	if err := l.Revoke(mac, "test"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if _, err := l.GetStatus(mac); !errors.Is(err, ErrNotFound) {
		t.Errorf("status after revoke = %v, want ErrNotFound", err)
	}
	if n := enf.revokesFor(mac); n != 1 {
		t.Errorf("revoke handoffs = %d, want 1", n)
	}
}

func TestRecoverRebuildsCountdownAndReconciles(t *testing.T) {
	mac := "02:00:00:00:01:0a"
	seed := New(&recordingEnforcer{}, nil)
	if _, _, err := seed.ApplyCredit(mac, "10.0.0.19", "dev-10", 5); err != nil {
		t.Fatal(err)
	}

	// A fresh ledger over the same storage, as after a process restart.
	enf := &recordingEnforcer{}
	l := New(enf, nil)
	if err := l.Recover(); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}

	if l.ActiveCount() == 0 {
		t.Error("no sessions recovered")
	}

	enf.mu.Lock()
	defer enf.mu.Unlock()
	if len(enf.reconcile) != 1 {
		t.Fatalf("reconcile calls = %d, want 1", len(enf.reconcile))
	}
	found := false
	for _, b := range enf.reconcile[0] {
		if b.MAC == mac {
			found = true
		}
	}
	if !found {
		t.Errorf("recovered bindings %v missing %s", enf.reconcile[0], mac)
	}
}

func TestStatusReadsDuringSweep(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:0c"

	if _, _, err := l.ApplyCredit(mac, "10.0.0.21", "dev-12", 10); err != nil {
		t.Fatal(err)
	}

	// Readers race the sweep's countdown writes; every snapshot they see must
	// be internally consistent and monotonically non-increasing.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64 = 1 << 62
			for {
				select {
				case <-done:
					return
				default:
				}
				session, err := l.GetStatus(mac)
				if err != nil {
					t.Errorf("GetStatus() during sweep: %v", err)
					return
				}
				if session.RemainingSeconds > last {
					t.Errorf("remaining went up: %d -> %d", last, session.RemainingSeconds)
					return
				}
				last = session.RemainingSeconds
				if _, err := l.ListActive(); err != nil {
					t.Errorf("ListActive() during sweep: %v", err)
					return
				}
			}
		}()
	}

	at := time.Now()
	for i := 0; i < 50; i++ {
		at = at.Add(time.Second)
		l.ExpireSweep(at)
	}
	close(done)
	wg.Wait()

	session, err := l.GetStatus(mac)
	if err != nil {
		t.Fatal(err)
	}
	// 10 pesos buys 65 minutes; 50 swept seconds leave 3850.
	if session.RemainingSeconds != 3850 {
		t.Errorf("remaining = %d, want 3850", session.RemainingSeconds)
	}
}

func TestGetByToken(t *testing.T) {
	l := New(&recordingEnforcer{}, nil)
	mac := "02:00:00:00:01:0b"

	_, token, err := l.ApplyCredit(mac, "10.0.0.20", "dev-11", 1)
	if err != nil {
		t.Fatal(err)
	}

	session, err := l.GetByToken(token)
	if err != nil {
		t.Fatalf("GetByToken() error: %v", err)
	}
	if session.MAC != mac {
		t.Errorf("mac = %s, want %s", session.MAC, mac)
	}

	if _, err := l.GetByToken("deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token = %v, want ErrNotFound", err)
	}
}
