package enforce

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
)

// Chain names owned by this backend. Nothing else on the host may write them.
const (
	natChain    = "PISOWIFI_PORTAL"
	filterChain = "PISOWIFI_ALLOW"
)

// Runner executes a host command. Split out so tests can fake iptables.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the real host.
type ExecRunner struct{}

// Run executes the command and returns combined output
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// IPTables drives the host iptables binary. Two chains are maintained: a nat
// PREROUTING chain whose RETURN rules bypass the captive portal redirect, and
// a filter FORWARD chain whose ACCEPT rules pass traffic ahead of the default
// deny. All writes are serialized; rule order inside the chains matters
// relative to the trailing default rules.
type IPTables struct {
	mu     sync.Mutex
	runner Runner
	wan    string
}

// NewIPTables creates an iptables backend using the given runner
func NewIPTables(runner Runner, wanInterface string) *IPTables {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &IPTables{runner: runner, wan: wanInterface}
}

// EnsureChains creates the owned chains and their jump rules if missing
func (t *IPTables) EnsureChains(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Chain creation fails when the chain exists; that is fine.
	t.runner.Run(ctx, "iptables", "-t", "nat", "-N", natChain)
	t.runner.Run(ctx, "iptables", "-N", filterChain)

	if err := t.ensureRule(ctx, []string{"-t", "nat", "-I", "PREROUTING", "1", "-j", natChain},
		[]string{"-t", "nat", "-C", "PREROUTING", "-j", natChain}); err != nil {
		return err
	}
	return t.ensureRule(ctx, []string{"-I", "FORWARD", "1", "-j", filterChain},
		[]string{"-C", "FORWARD", "-j", filterChain})
}

// Grant installs the bypass and accept rules for a MAC
func (t *IPTables) Grant(ctx context.Context, mac, ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, spec := range ruleSpecs(mac, ip, t.wan) {
		if err := t.ensureRule(ctx, spec.add, spec.check); err != nil {
			return err
		}
	}
	return nil
}

// Revoke removes the rules for a MAC. Missing rules are treated as success
// because reconciliation may run twice.
func (t *IPTables) Revoke(ctx context.Context, mac, ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, spec := range ruleSpecs(mac, ip, t.wan) {
		if _, err := t.runner.Run(ctx, "iptables", spec.check...); err != nil {
			continue // already absent
		}
		if _, err := t.runner.Run(ctx, "iptables", spec.del...); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile flushes both chains and re-asserts grants for the given bindings.
// Flushing first guarantees convergence even after a crash mid-Grant.
func (t *IPTables) Reconcile(ctx context.Context, bindings []Binding) error {
	t.mu.Lock()
	if _, err := t.runner.Run(ctx, "iptables", "-t", "nat", "-F", natChain); err != nil {
		t.mu.Unlock()
		return err
	}
	if _, err := t.runner.Run(ctx, "iptables", "-F", filterChain); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	for _, b := range bindings {
		if err := t.Grant(ctx, b.MAC, b.IP); err != nil {
			return err
		}
	}
	return nil
}

// ensureRule adds a rule only when the check variant reports it missing
func (t *IPTables) ensureRule(ctx context.Context, add, check []string) error {
	if _, err := t.runner.Run(ctx, "iptables", check...); err == nil {
		return nil // already present
	}
	_, err := t.runner.Run(ctx, "iptables", add...)
	return err
}

type ruleSpec struct {
	add   []string
	del   []string
	check []string
}

// ruleSpecs builds the nat bypass and forward accept rules for a binding.
// The IP scopes the rules only when it is a concrete unicast address; the
// forward rule is additionally pinned to the WAN interface when one is set.
func ruleSpecs(mac, ip, wan string) []ruleSpec {
	match := []string{"-m", "mac", "--mac-source", mac}
	if concreteIP(ip) {
		match = append(match, "-s", ip)
	}

	natRule := append(append([]string{}, match...), "-j", "RETURN")
	fwdRule := append([]string{}, match...)
	if wan != "" {
		fwdRule = append(fwdRule, "-o", wan)
	}
	fwdRule = append(fwdRule, "-j", "ACCEPT")

	return []ruleSpec{
		{
			add:   append([]string{"-t", "nat", "-A", natChain}, natRule...),
			del:   append([]string{"-t", "nat", "-D", natChain}, natRule...),
			check: append([]string{"-t", "nat", "-C", natChain}, natRule...),
		},
		{
			add:   append([]string{"-A", filterChain}, fwdRule...),
			del:   append([]string{"-D", filterChain}, fwdRule...),
			check: append([]string{"-C", filterChain}, fwdRule...),
		},
	}
}

// concreteIP reports whether ip is a usable unicast address, not a placeholder
func concreteIP(ip string) bool {
	if ip == "" || ip == "0.0.0.0" {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && !parsed.IsUnspecified()
}
