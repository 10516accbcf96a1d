// Package config centralizes all runtime configuration for the vendo backend.
// Values come from environment variables, with an optional .env file for
// development convenience.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the backend needs, grouped by concern.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Coin    CoinConfig
	Guard   GuardConfig
	Enforce EnforceConfig
	Sync    SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
}

// DBConfig holds SQLite settings.
type DBConfig struct {
	Path string
}

// CoinConfig holds pulse aggregation and coin slot settings.
type CoinConfig struct {
	Debounce      time.Duration
	Settle        time.Duration
	Denominations map[int]int // pulse count -> pesos
	Fallback      bool        // unknown count maps 1:1 to pesos
	ClaimTTL      time.Duration
	HardwareToken string // shared secret for the pulse websocket
}

// GuardConfig holds device security settings.
type GuardConfig struct {
	MaxRequests int
	Window      time.Duration
	BlockTime   time.Duration
	MaxIPs      int
	ChurnWindow time.Duration
}

// EnforceConfig holds packet filter settings.
type EnforceConfig struct {
	Backend        string // "iptables" or "noop"
	WANInterface   string
	CommandTimeout time.Duration
	RetryAttempts  int
}

// SyncConfig holds upstream telemetry settings.
type SyncConfig struct {
	UpstreamURL       string
	MachineID         string
	FlushInterval     time.Duration
	HeartbeatInterval time.Duration
	MaxRetries        int
	RequestTimeout    time.Duration
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
}

// Load builds a Config from the environment. A .env file is loaded first if
// present; missing values fall back to defaults suitable for a single-box
// deployment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	debounce, err := envDurationMS("PISOWIFI_PULSE_DEBOUNCE_MS", 50)
	if err != nil {
		return nil, err
	}
	settle, err := envDurationMS("PISOWIFI_PULSE_SETTLE_MS", 400)
	if err != nil {
		return nil, err
	}
	denoms, err := parseDenominations(getEnv("PISOWIFI_DENOMINATIONS", "1=1,5=5,10=10"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PISOWIFI_PORT", "8080"),
		},
		DB: DBConfig{
			Path: getEnv("PISOWIFI_DB_PATH", "./pisowifi.db"),
		},
		Coin: CoinConfig{
			Debounce:      debounce,
			Settle:        settle,
			Denominations: denoms,
			Fallback:      getEnv("PISOWIFI_PULSE_FALLBACK", "true") == "true",
			ClaimTTL:      envSeconds("PISOWIFI_CLAIM_TTL_SECONDS", 120),
			HardwareToken: os.Getenv("PISOWIFI_HW_TOKEN"),
		},
		Guard: GuardConfig{
			MaxRequests: envInt("PISOWIFI_GUARD_MAX_REQUESTS", 5),
			Window:      envSeconds("PISOWIFI_GUARD_WINDOW_SECONDS", 60),
			BlockTime:   envSeconds("PISOWIFI_GUARD_BLOCK_SECONDS", 60),
			MaxIPs:      envInt("PISOWIFI_GUARD_MAX_IPS", 3),
			ChurnWindow: envSeconds("PISOWIFI_GUARD_CHURN_SECONDS", 300),
		},
		Enforce: EnforceConfig{
			Backend:        getEnv("PISOWIFI_ENFORCE_BACKEND", "iptables"),
			WANInterface:   getEnv("PISOWIFI_WAN_INTERFACE", "eth0"),
			CommandTimeout: envSeconds("PISOWIFI_ENFORCE_TIMEOUT_SECONDS", 5),
			RetryAttempts:  envInt("PISOWIFI_ENFORCE_RETRIES", 3),
		},
		Sync: SyncConfig{
			UpstreamURL:       os.Getenv("PISOWIFI_UPSTREAM_URL"),
			MachineID:         getEnv("PISOWIFI_MACHINE_ID", "pisowifi-1"),
			FlushInterval:     envSeconds("PISOWIFI_SYNC_FLUSH_SECONDS", 60),
			HeartbeatInterval: envSeconds("PISOWIFI_HEARTBEAT_SECONDS", 300),
			MaxRetries:        envInt("PISOWIFI_SYNC_MAX_RETRIES", 5),
			RequestTimeout:    envSeconds("PISOWIFI_SYNC_TIMEOUT_SECONDS", 10),
			OAuthClientID:     os.Getenv("PISOWIFI_OAUTH_CLIENT_ID"),
			OAuthClientSecret: os.Getenv("PISOWIFI_OAUTH_CLIENT_SECRET"),
			OAuthTokenURL:     os.Getenv("PISOWIFI_OAUTH_TOKEN_URL"),
		},
	}

	return cfg, nil
}

// parseDenominations parses "1=1,5=5,10=10" into a pulse-count-to-pesos table.
func parseDenominations(s string) (map[int]int, error) {
	table := make(map[int]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid denomination entry %q", pair)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid pulse count in %q: %w", pair, err)
		}
		pesos, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid peso value in %q: %w", pair, err)
		}
		if count <= 0 || pesos <= 0 {
			return nil, fmt.Errorf("denomination entry %q must be positive", pair)
		}
		table[count] = pesos
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("denomination table is empty")
	}
	return table, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envDurationMS(key string, fallback int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}
