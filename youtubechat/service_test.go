package youtubechat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/chatspeakapp/chatspeak/backend/credstore"
	"github.com/chatspeakapp/chatspeak/backend/errs"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
)

func refresherWithToken(t *testing.T, token string) (*oauth.Refresher, *credstore.Store) {
	t.Helper()
	store, err := credstore.Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("credstore.Open() error = %v", err)
	}
	if err := store.Save(context.Background(), credstore.Credential{
		Provider:    oauth.ProviderYouTube,
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return oauth.NewRefresher(store), store
}

func TestFetchLiveBroadcasts(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if got := r.URL.Query().Get("broadcastStatus"); got != "active" {
			t.Errorf("broadcastStatus = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":"b1","snippet":{"title":"Stream","channelId":"UCowner","liveChatId":"lc1"}}]}`)
	}))
	defer srv.Close()

	r, _ := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	broadcasts, err := svc.FetchLiveBroadcasts(context.Background())
	if err != nil {
		t.Fatalf("FetchLiveBroadcasts() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(broadcasts))
	}
	b := broadcasts[0]
	if b.ID != "b1" || b.Title != "Stream" || b.ChannelID != "UCowner" || b.LiveChatID != "lc1" {
		t.Errorf("broadcast = %+v", b)
	}
}

func TestFetchLiveBroadcastsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	r, _ := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	broadcasts, err := svc.FetchLiveBroadcasts(context.Background())
	if err != nil {
		t.Fatalf("FetchLiveBroadcasts() error = %v, want nil for no broadcasts", err)
	}
	if broadcasts == nil || len(broadcasts) != 0 {
		t.Errorf("broadcasts = %v, want empty slice", broadcasts)
	}
}

func TestFetchLiveBroadcastsQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`)
	}))
	defer srv.Close()

	r, store := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	_, err := svc.FetchLiveBroadcasts(context.Background())
	if errs.KindOf(err) != errs.KindPermissionDenied {
		t.Errorf("kind = %v, want KindPermissionDenied", errs.KindOf(err))
	}

	// Quota exhaustion is not a token problem; the credential stays.
	cred, lerr := store.Load(context.Background(), oauth.ProviderYouTube)
	if lerr != nil || cred == nil {
		t.Errorf("credential should survive a quota 403, got (%v, %v)", cred, lerr)
	}
}

func TestFetchLiveBroadcastsInsufficientPermissions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"insufficient permission","errors":[{"reason":"insufficientPermissions"}]}}`)
	}))
	defer srv.Close()

	r, _ := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	_, err := svc.FetchLiveBroadcasts(context.Background())
	if errs.KindOf(err) != errs.KindPermissionDenied {
		t.Errorf("kind = %v, want KindPermissionDenied", errs.KindOf(err))
	}
	if err == nil || !strings.Contains(err.Error(), "scope") {
		t.Errorf("err = %v, want the missing-scope sub-reason", err)
	}
}

func TestFetchLiveBroadcastsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"slow down","errors":[{"reason":"rateLimitExceeded"}]}}`)
	}))
	defer srv.Close()

	r, _ := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	_, err := svc.FetchLiveBroadcasts(context.Background())
	if errs.KindOf(err) != errs.KindRateLimited {
		t.Errorf("kind = %v, want KindRateLimited", errs.KindOf(err))
	}
}

func TestFetchLiveBroadcastsStreamingDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"forbidden","errors":[{"reason":"liveStreamingNotEnabled"}]}}`)
	}))
	defer srv.Close()

	r, store := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))

	_, err := svc.FetchLiveBroadcasts(context.Background())
	if errs.KindOf(err) != errs.KindPermissionDenied {
		t.Errorf("kind = %v, want KindPermissionDenied", errs.KindOf(err))
	}

	// A 403 keeps the credential: the token works, the account lacks the
	// feature, and a re-login would not change that.
	cred, err := store.Load(context.Background(), oauth.ProviderYouTube)
	if err != nil || cred == nil {
		t.Errorf("credential should survive a 403, got (%v, %v)", cred, err)
	}
}

func TestFetchLiveBroadcastsUnauthorizedRefreshesOnce(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	}))
	defer srv.Close()

	store, err := credstore.Open(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("credstore.Open() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, credstore.Credential{
		Provider:     oauth.ProviderYouTube,
		AccessToken:  "tok1",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	r := oauth.NewRefresher(store)
	r.Register(oauth.ProviderYouTube, func(ctx context.Context, rt string) (*oauth.RefreshResult, error) {
		return &oauth.RefreshResult{AccessToken: "tok2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	svc := New(r, 10*time.Second, option.WithEndpoint(srv.URL))
	_, err = svc.FetchLiveBroadcasts(ctx)
	if errs.KindOf(err) != errs.KindAuthExpired {
		t.Errorf("kind = %v, want KindAuthExpired", errs.KindOf(err))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 2 || tokens[0] != "Bearer tok1" || tokens[1] != "Bearer tok2" {
		t.Errorf("tokens = %v, want one retry with the refreshed token", tokens)
	}

	// Persistent 401 despite a fresh token means the credential is dead.
	cred, lerr := store.Load(ctx, oauth.ProviderYouTube)
	if lerr != nil {
		t.Fatalf("Load() error = %v", lerr)
	}
	if cred != nil {
		t.Error("credential should be cleared after 401 with a refreshed token")
	}
}

func TestConnectRequiresLiveChatID(t *testing.T) {
	r, _ := refresherWithToken(t, "tok")
	svc := New(r, 10*time.Second)
	_, err := svc.Connect(context.Background(), "", "UCowner", nil, nil)
	if errs.KindOf(err) != errs.KindUpstreamEnded {
		t.Errorf("kind = %v, want KindUpstreamEnded", errs.KindOf(err))
	}
}
