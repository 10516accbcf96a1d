package syncq

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"pisowifi-backend/internal/models"
)

// Poster delivers one payload upstream. Split out so tests can fake the
// collector.
type Poster interface {
	Post(ctx context.Context, kind, payload string) error
}

// ClientConfig holds upstream collector settings.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
}

// Client posts transactions and heartbeats to the upstream collector. When
// OAuth2 client credentials are configured the transport refreshes tokens
// itself; otherwise requests go out unauthenticated.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates an upstream client, or nil when no upstream is configured
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		return nil
	}

	httpClient := &http.Client{}
	if cfg.OAuthClientID != "" && cfg.OAuthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
		}
		httpClient = cc.Client(context.Background())
	}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{base: cfg.BaseURL, http: httpClient}
}

// Post delivers one item. The path depends on the item kind.
func (c *Client) Post(ctx context.Context, kind, payload string) error {
	path := "/api/v1/transaction"
	if kind == models.SyncKindStatus {
		path = "/api/v1/heartbeat"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader([]byte(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned %s", resp.Status)
	}
	return nil
}
