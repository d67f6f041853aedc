package credstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	err := s.Save(ctx, Credential{
		Provider:     "twitch",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    exp,
		Scope:        "chat:read",
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cred, err := s.Load(ctx, "twitch")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred == nil {
		t.Fatal("Load() = nil, want credential")
	}
	if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" {
		t.Errorf("loaded tokens = (%q, %q)", cred.AccessToken, cred.RefreshToken)
	}
	if !cred.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, exp)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	cred, err := s.Load(context.Background(), "youtube")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred != nil {
		t.Errorf("Load() = %+v, want nil", cred)
	}
}

func TestSaveLastWriterWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Credential{Provider: "twitch", AccessToken: "first"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, Credential{Provider: "twitch", AccessToken: "second"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cred, err := s.Load(ctx, "twitch")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred.AccessToken != "second" {
		t.Errorf("AccessToken = %q, want second", cred.AccessToken)
	}
}

func TestSaveDefaultsExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Credential{Provider: "youtube", AccessToken: "tok"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cred, err := s.Load(ctx, "youtube")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be defaulted, got zero")
	}
	if time.Until(cred.ExpiresAt) < 50*time.Minute {
		t.Errorf("defaulted expiry too close: %v", cred.ExpiresAt)
	}
}

func TestSaveEmptyProviderRejected(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(context.Background(), Credential{AccessToken: "tok"}); err == nil {
		t.Error("Save() with empty provider should fail")
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Credential{Provider: "twitch", AccessToken: "tok"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Clear(ctx, "twitch"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	cred, err := s.Load(ctx, "twitch")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred != nil {
		t.Error("credential should be gone after Clear")
	}

	// Clearing again is a no-op, not an error.
	if err := s.Clear(ctx, "twitch"); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestProvidersIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Credential{Provider: "twitch", AccessToken: "t"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, Credential{Provider: "youtube", AccessToken: "y"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Clear(ctx, "twitch"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	cred, err := s.Load(ctx, "youtube")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred == nil || cred.AccessToken != "y" {
		t.Error("clearing twitch must not touch youtube")
	}
}
