// Package enforce keeps the host packet filter in line with the session
// ledger. The ledger decides who may pass traffic; this package only makes
// that decision real, idempotently, and never in the ledger's critical path.
package enforce

import "context"

// Binding is one (mac, ip) pair that should be allowed through the filter.
// IP may be empty when only the MAC is known.
type Binding struct {
	MAC string
	IP  string
}

// Enforcer is the narrow boundary to the packet filter backend. All three
// operations are idempotent and safe to retry.
type Enforcer interface {
	// Grant installs allow rules for the MAC, optionally scoped by IP.
	Grant(ctx context.Context, mac, ip string) error
	// Revoke removes the same rules. A rule that is already absent is success.
	Revoke(ctx context.Context, mac, ip string) error
	// Reconcile clears all enforcement state left by a previous run and
	// re-asserts grants for exactly the given bindings.
	Reconcile(ctx context.Context, bindings []Binding) error
}

// Noop is an Enforcer that does nothing. Used on hosts without iptables and
// in tests.
type Noop struct{}

func (Noop) Grant(ctx context.Context, mac, ip string) error         { return nil }
func (Noop) Revoke(ctx context.Context, mac, ip string) error        { return nil }
func (Noop) Reconcile(ctx context.Context, bindings []Binding) error { return nil }
