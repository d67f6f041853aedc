package oauth

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatspeakapp/chatspeak/backend/credstore"
	"github.com/chatspeakapp/chatspeak/backend/errs"
)

func testStore(t *testing.T) *credstore.Store {
	t.Helper()
	s, err := credstore.Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("credstore.Open() error = %v", err)
	}
	return s
}

func TestGetValidTokenFreshSkipsRefresh(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "fresh-token",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		t.Error("refresh must not run for a fresh token")
		return nil, nil
	})

	tok, err := r.GetValidToken(ctx, "twitch")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", tok)
	}
}

func TestGetValidTokenNoCredential(t *testing.T) {
	r := NewRefresher(testStore(t))
	_, err := r.GetValidToken(context.Background(), "twitch")
	if errs.KindOf(err) != errs.KindNotAuthenticated {
		t.Errorf("kind = %v, want KindNotAuthenticated", errs.KindOf(err))
	}
}

func TestGetValidTokenRefreshesExpiring(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "old",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Minute), // inside the safety buffer
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		if rt != "rt-1" {
			t.Errorf("refresh token = %q, want rt-1", rt)
		}
		return &RefreshResult{
			AccessToken:  "new",
			RefreshToken: "rt-2",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	})

	tok, err := r.GetValidToken(ctx, "twitch")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok != "new" {
		t.Errorf("token = %q, want new", tok)
	}

	cred, err := store.Load(ctx, "twitch")
	if err != nil || cred == nil {
		t.Fatalf("Load() = (%v, %v)", cred, err)
	}
	if cred.AccessToken != "new" || cred.RefreshToken != "rt-2" {
		t.Errorf("persisted = (%q, %q), want (new, rt-2)", cred.AccessToken, cred.RefreshToken)
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "old",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	r := NewRefresher(store)
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &RefreshResult{AccessToken: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	const n = 4
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := r.GetValidToken(ctx, "twitch")
			if err != nil {
				t.Errorf("GetValidToken() error = %v", err)
			}
			results[i] = tok
		}(i)
	}
	<-started
	// All callers are either blocked on the flight or about to join it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	for i, tok := range results {
		if tok != "shared" {
			t.Errorf("caller %d token = %q, want shared", i, tok)
		}
	}
}

func TestInvalidGrantClearsCredential(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "youtube",
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var calls atomic.Int32
	r := NewRefresher(store, WithRetryBase(time.Millisecond))
	r.Register("youtube", func(ctx context.Context, rt string) (*RefreshResult, error) {
		calls.Add(1)
		return nil, errs.New(errs.KindNotAuthenticated, "invalid_grant")
	})

	_, err := r.GetValidToken(ctx, "youtube")
	if errs.KindOf(err) != errs.KindNotAuthenticated {
		t.Fatalf("kind = %v, want KindNotAuthenticated", errs.KindOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1 (no retry on invalid_grant)", got)
	}

	cred, err := store.Load(ctx, "youtube")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred != nil {
		t.Error("credential should be cleared after invalid_grant")
	}

	// Next call sees no credential and never reaches the refresh func.
	if _, err := r.GetValidToken(ctx, "youtube"); errs.KindOf(err) != errs.KindNotAuthenticated {
		t.Errorf("second call kind = %v, want KindNotAuthenticated", errs.KindOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("refresh calls after second GetValidToken = %d, want 1", got)
	}
}

func TestTransientFailuresRetryThenStaleFallback(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	// Inside the safety buffer but not yet expired: eligible for stale
	// fallback after exhaustion.
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "stale-but-valid",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(2 * time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var calls atomic.Int32
	r := NewRefresher(store, WithRetryBase(time.Millisecond))
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		calls.Add(1)
		return nil, errs.New(errs.KindTransientNetwork, "endpoint down")
	})

	tok, err := r.GetValidToken(ctx, "twitch")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v, want stale fallback", err)
	}
	if tok != "stale-but-valid" {
		t.Errorf("token = %q, want stale-but-valid", tok)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("refresh attempts = %d, want 3", got)
	}
}

func TestTransientFailuresExpiredTokenFails(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "dead",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store, WithRetryBase(time.Millisecond))
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		return nil, errs.New(errs.KindTransientNetwork, "endpoint down")
	})

	if _, err := r.GetValidToken(ctx, "twitch"); errs.KindOf(err) != errs.KindNotAuthenticated {
		t.Errorf("kind = %v, want KindNotAuthenticated", errs.KindOf(err))
	}
}

func TestNoRefreshTokenExpiredClears(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:    "twitch",
		AccessToken: "implicit-flow",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	if _, err := r.GetValidToken(ctx, "twitch"); errs.KindOf(err) != errs.KindNotAuthenticated {
		t.Errorf("kind = %v, want KindNotAuthenticated", errs.KindOf(err))
	}
	cred, err := store.Load(ctx, "twitch")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cred != nil {
		t.Error("expired credential without refresh token should be cleared")
	}
}

func TestRefreshNowBypassesFreshness(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "twitch",
		AccessToken:  "rejected-by-server",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	r.Register("twitch", func(ctx context.Context, rt string) (*RefreshResult, error) {
		return &RefreshResult{AccessToken: "forced", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	tok, err := r.RefreshNow(ctx, "twitch")
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if tok != "forced" {
		t.Errorf("token = %q, want forced", tok)
	}
}

func TestInvalidateForcesNextRefresh(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     "youtube",
		AccessToken:  "looks-fresh",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	var calls atomic.Int32
	r.Register("youtube", func(ctx context.Context, rt string) (*RefreshResult, error) {
		calls.Add(1)
		return &RefreshResult{AccessToken: "renewed", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	r.Invalidate(ctx, "youtube")
	tok, err := r.GetValidToken(ctx, "youtube")
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok != "renewed" || calls.Load() != 1 {
		t.Errorf("token = %q (calls %d), want renewed via one refresh", tok, calls.Load())
	}
}

func TestTokenSource(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:    "youtube",
		AccessToken: "src-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	r := NewRefresher(store)
	tok, err := r.TokenSource(ctx, "youtube").Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "src-token" || tok.TokenType != "Bearer" {
		t.Errorf("token = %+v", tok)
	}
}
