package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Coin.Debounce != 50*time.Millisecond {
		t.Errorf("debounce = %s, want 50ms", cfg.Coin.Debounce)
	}
	if cfg.Coin.Settle != 400*time.Millisecond {
		t.Errorf("settle = %s, want 400ms", cfg.Coin.Settle)
	}
	if !cfg.Coin.Fallback {
		t.Error("pulse fallback disabled by default")
	}
	if cfg.Guard.MaxRequests != 5 {
		t.Errorf("guard max requests = %d, want 5", cfg.Guard.MaxRequests)
	}
	if cfg.Enforce.Backend != "iptables" {
		t.Errorf("enforce backend = %s, want iptables", cfg.Enforce.Backend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PISOWIFI_PORT", "9090")
	t.Setenv("PISOWIFI_PULSE_DEBOUNCE_MS", "25")
	t.Setenv("PISOWIFI_DENOMINATIONS", "1=2,4=10")
	t.Setenv("PISOWIFI_PULSE_FALLBACK", "false")
	t.Setenv("PISOWIFI_ENFORCE_BACKEND", "noop")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Coin.Debounce != 25*time.Millisecond {
		t.Errorf("debounce = %s, want 25ms", cfg.Coin.Debounce)
	}
	if cfg.Coin.Fallback {
		t.Error("fallback still enabled")
	}
	if cfg.Enforce.Backend != "noop" {
		t.Errorf("backend = %s, want noop", cfg.Enforce.Backend)
	}
	if len(cfg.Coin.Denominations) != 2 || cfg.Coin.Denominations[4] != 10 {
		t.Errorf("denominations = %v, want {1:2, 4:10}", cfg.Coin.Denominations)
	}
}

func TestLoadRejectsBadDebounce(t *testing.T) {
	t.Setenv("PISOWIFI_PULSE_DEBOUNCE_MS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("malformed debounce accepted")
	}
}

func TestParseDenominations(t *testing.T) {
	table, err := parseDenominations("1=1, 5=5 ,10=10")
	if err != nil {
		t.Fatalf("parseDenominations() error: %v", err)
	}
	if len(table) != 3 || table[5] != 5 {
		t.Errorf("table = %v, want three entries", table)
	}

	for _, bad := range []string{"", "5", "5=x", "0=1", "5=-1"} {
		if _, err := parseDenominations(bad); err == nil {
			t.Errorf("parseDenominations(%q) accepted", bad)
		}
	}
}
