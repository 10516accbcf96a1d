package syncq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"pisowifi-backend/internal/models"
)

func TestNewClientWithoutUpstream(t *testing.T) {
	if c := NewClient(ClientConfig{}); c != nil {
		t.Error("client created with no upstream URL")
	}
}

func TestClientRoutesByKind(t *testing.T) {
	var mu sync.Mutex
	paths := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if err := c.Post(context.Background(), models.SyncKindSale, `{"amount":5}`); err != nil {
		t.Fatalf("sale post error: %v", err)
	}
	if err := c.Post(context.Background(), models.SyncKindStatus, `{"status":"online"}`); err != nil {
		t.Fatalf("heartbeat post error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/api/v1/transaction", "/api/v1/heartbeat"}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("path[%d] = %s, want %s", i, paths[i], p)
		}
	}
}

func TestClientRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if err := c.Post(context.Background(), models.SyncKindSale, "{}"); err == nil {
		t.Error("502 response accepted")
	}
}
