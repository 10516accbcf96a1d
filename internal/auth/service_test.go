package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/models"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "auth-test-*")
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

func createTestAdmin(t *testing.T, username, password string) *models.Admin {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	admin := &models.Admin{Username: username, PasswordHash: hash}
	if err := database.NewAdminRepo().Create(admin); err != nil {
		t.Fatal(err)
	}
	return admin
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("password stored in the clear")
	}
	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestLoginAndValidate(t *testing.T) {
	createTestAdmin(t, "operator", "hunter2")
	svc := NewService()

	resp, err := svc.Login(LoginRequest{Username: "operator", Password: "hunter2"}, "10.0.3.2")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("no token issued")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("session already expired at %s", resp.ExpiresAt)
	}

	admin, session, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if admin.Username != "operator" {
		t.Errorf("username = %s, want operator", admin.Username)
	}
	if session.IPAddress != "10.0.3.2" {
		t.Errorf("session ip = %s, want 10.0.3.2", session.IPAddress)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	createTestAdmin(t, "operator2", "hunter2")
	svc := NewService()

	if _, err := svc.Login(LoginRequest{Username: "operator2", Password: "wrong"}, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(LoginRequest{Username: "nobody", Password: "hunter2"}, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	createTestAdmin(t, "operator3", "hunter2")
	svc := NewService()

	resp, err := svc.Login(LoginRequest{Username: "operator3", Password: "hunter2"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(resp.Token); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, _, err := svc.ValidateToken(resp.Token); err == nil {
		t.Error("token still valid after logout")
	}
}

func TestRateLimiterBlocksAfterMaxAttempts(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("10.0.3.9"); !ok {
			t.Fatalf("attempt %d blocked early", i+1)
		}
	}
	ok, blocked := rl.Allow("10.0.3.9")
	if ok {
		t.Fatal("4th attempt allowed")
	}
	if blocked <= 0 {
		t.Errorf("blocked duration = %s, want positive", blocked)
	}

	// Other clients are unaffected.
	if ok, _ := rl.Allow("10.0.3.10"); !ok {
		t.Error("unrelated client blocked")
	}
}

func TestRateLimiterResetsOnSuccess(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	rl.Allow("10.0.3.11")
	rl.Allow("10.0.3.11")
	rl.RecordSuccess("10.0.3.11")

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("10.0.3.11"); !ok {
			t.Fatalf("attempt %d blocked after a successful login reset", i+1)
		}
	}
}
