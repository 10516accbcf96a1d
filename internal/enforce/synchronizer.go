package enforce

import (
	"context"
	"log"
	"time"
)

type opKind int

const (
	opGrant opKind = iota
	opRevoke
	opReconcile
)

type op struct {
	kind     opKind
	mac      string
	ip       string
	bindings []Binding
}

// Synchronizer runs backend operations on a single worker goroutine so the
// ledger never blocks on the packet filter and rule writes never interleave.
// Failed operations are retried with backoff and eventually logged and
// abandoned; the ledger's state stays authoritative either way.
type Synchronizer struct {
	backend Enforcer
	ops     chan op
	timeout time.Duration
	retries int
}

// NewSynchronizer creates a synchronizer over the given backend
func NewSynchronizer(backend Enforcer, timeout time.Duration, retries int) *Synchronizer {
	if retries < 1 {
		retries = 1
	}
	return &Synchronizer{
		backend: backend,
		ops:     make(chan op, 256),
		timeout: timeout,
		retries: retries,
	}
}

// Grant queues an allow-rule installation. Never blocks the caller unless the
// queue is full, which only happens if the host tool has been wedged for a
// long time.
func (s *Synchronizer) Grant(mac, ip string) {
	s.ops <- op{kind: opGrant, mac: mac, ip: ip}
}

// Revoke queues an allow-rule removal
func (s *Synchronizer) Revoke(mac, ip string) {
	s.ops <- op{kind: opRevoke, mac: mac, ip: ip}
}

// Reconcile queues a full re-derivation of filter state from the given
// active-session bindings
func (s *Synchronizer) Reconcile(bindings []Binding) {
	s.ops <- op{kind: opReconcile, bindings: bindings}
}

// Run processes queued operations until ctx is cancelled
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-s.ops:
			s.apply(ctx, o)
		}
	}
}

// apply executes one operation with bounded retries
func (s *Synchronizer) apply(ctx context.Context, o op) {
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, o)
		if err == nil {
			return
		}
		if attempt >= s.retries {
			log.Printf("enforce: giving up on %s after %d attempts: %v", o.describe(), attempt, err)
			return
		}
		log.Printf("enforce: %s failed (attempt %d): %v", o.describe(), attempt, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Synchronizer) attempt(ctx context.Context, o op) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch o.kind {
	case opGrant:
		return s.backend.Grant(callCtx, o.mac, o.ip)
	case opRevoke:
		return s.backend.Revoke(callCtx, o.mac, o.ip)
	default:
		return s.backend.Reconcile(callCtx, o.bindings)
	}
}

func (o op) describe() string {
	switch o.kind {
	case opGrant:
		return "grant " + o.mac
	case opRevoke:
		return "revoke " + o.mac
	default:
		return "reconcile"
	}
}
