package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/chatspeakapp/chatspeak/backend/config"
	"github.com/chatspeakapp/chatspeak/backend/credstore"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
	"github.com/chatspeakapp/chatspeak/backend/twitchchat"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000

	stateTTL = 10 * time.Minute
)

// Handlers holds dependencies for all HTTP handlers. TwitchChat may be nil
// when no session manager is running (auth-only mode).
type Handlers struct {
	cfg         *config.Config
	store       *credstore.Store
	twitchOAuth *oauth.TwitchOAuth
	ytOAuth     *oauth2.Config
	callbacks   *oauth.CallbackHandler
	twitchChat  *twitchchat.Manager

	stateMu    sync.RWMutex
	stateStore map[string]time.Time
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, store *credstore.Store, twitchChat *twitchchat.Manager) *Handlers {
	return &Handlers{
		cfg:         cfg,
		store:       store,
		twitchOAuth: oauth.NewTwitchOAuth(cfg),
		ytOAuth:     oauth.YouTubeConfig(cfg),
		callbacks:   &oauth.CallbackHandler{Store: store},
		twitchChat:  twitchChat,
		stateStore:  make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// Call with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

func (h *Handlers) addOAuthState(state string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	// Over the cap, refuse new states: a failed flow beats unbounded growth.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = time.Now().Add(stateTTL)
}

func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

func newState(w http.ResponseWriter) (string, bool) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	return hex.EncodeToString(b), true
}

// HandleHealthz responds to liveness probes by checking storage connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type providerStatus struct {
	Authenticated bool      `json:"authenticated"`
	Renewable     bool      `json:"renewable"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// HandleStatus reports authentication and session state for the UI.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := struct {
		Twitch         providerStatus `json:"twitch"`
		YouTube        providerStatus `json:"youtube"`
		TwitchChannels []string       `json:"twitch_channels"`
		TTSProvider    string         `json:"tts_provider"`
	}{
		TwitchChannels: []string{},
		TTSProvider:    h.cfg.TTSProvider,
	}

	for provider, dst := range map[string]*providerStatus{
		oauth.ProviderTwitch:  &status.Twitch,
		oauth.ProviderYouTube: &status.YouTube,
	} {
		cred, err := h.store.Load(ctx, provider)
		if err != nil {
			slog.Warn("status credential load failed", slog.String("provider", provider), slog.Any("err", err))
			continue
		}
		if cred == nil || cred.AccessToken == "" {
			continue
		}
		dst.Authenticated = true
		dst.Renewable = cred.RefreshToken != ""
		dst.ExpiresAt = cred.ExpiresAt
	}

	if h.twitchChat != nil {
		status.TwitchChannels = h.twitchChat.Channels()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.ValidateTwitchOAuth(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, ok := newState(w)
	if !ok {
		return
	}
	h.addOAuthState(st)
	authURL := h.twitchOAuth.BuildAuthorizeURL(h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes, st)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth redirect from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	res, err := h.twitchOAuth.Exchange(ctx, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.Save(ctx, credstore.Credential{
		Provider:     oauth.ProviderTwitch,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
		Scope:        res.Scope,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scope": res.Scope}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleYouTubeOAuthStart initiates the YouTube OAuth flow.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.ValidateYouTubeOAuth(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, ok := newState(w)
	if !ok {
		return
	}
	h.addOAuthState(st)
	authURL := h.ytOAuth.AuthCodeURL(st, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleYouTubeOAuthCallback handles the OAuth redirect from Google and stores tokens.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	tok, err := h.ytOAuth.Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.Save(ctx, credstore.Credential{
		Provider:     oauth.ProviderYouTube,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "refresh_token_present": tok.RefreshToken != ""}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleOAuthComplete takes a callback payload posted by the UI's redirect
// page (used when the browser flow completes outside our redirect handler).
// The payload is untrusted; garbage is ignored with a 204 either way so the
// page cannot probe credential state.
func (h *Handlers) HandleOAuthComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cb oauth.Callback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&cb); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.callbacks.Handle(r.Context(), cb)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogout clears the stored credential for a provider.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider := r.URL.Query().Get("provider")
	if provider != oauth.ProviderTwitch && provider != oauth.ProviderYouTube {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}
	if err := h.store.Clear(r.Context(), provider); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
