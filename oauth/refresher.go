// Package oauth owns the token lifecycle for both platforms: validity
// checks against a safety buffer, single-flight refresh exchange with
// bounded linear retry, and intake of callback payloads delivered by the
// local redirect-capturing process.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/chatspeakapp/chatspeak/backend/credstore"
	"github.com/chatspeakapp/chatspeak/backend/errs"
	"github.com/chatspeakapp/chatspeak/backend/telemetry"
)

// expirySkew is how far before the recorded expiry a token is considered
// due for refresh.
const expirySkew = 5 * time.Minute

// RefreshResult is the outcome of a provider refresh exchange.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// RefreshFunc performs the provider-specific refresh exchange.
type RefreshFunc func(ctx context.Context, refreshToken string) (*RefreshResult, error)

// Refresher hands out valid access tokens, refreshing them on demand.
// Concurrent callers for the same provider share one in-flight refresh
// (single-flight); the flight is forgotten once settled so subsequent
// calls start fresh.
type Refresher struct {
	store *credstore.Store
	clock clockwork.Clock
	group singleflight.Group

	mu    sync.RWMutex
	funcs map[string]RefreshFunc

	retryBase   time.Duration
	maxAttempts int
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock injects a clock (tests).
func WithClock(c clockwork.Clock) Option { return func(r *Refresher) { r.clock = c } }

// WithRetryBase overrides the base backoff delay between refresh attempts.
func WithRetryBase(d time.Duration) Option { return func(r *Refresher) { r.retryBase = d } }

// NewRefresher returns a Refresher backed by the credential store.
func NewRefresher(store *credstore.Store, opts ...Option) *Refresher {
	r := &Refresher{
		store:       store,
		clock:       clockwork.NewRealClock(),
		funcs:       make(map[string]RefreshFunc),
		retryBase:   time.Second,
		maxAttempts: 3,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs the refresh exchange for a provider.
func (r *Refresher) Register(provider string, fn RefreshFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[provider] = fn
}

func (r *Refresher) refreshFunc(provider string) RefreshFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[provider]
}

// GetValidToken returns an access token that is expected to be accepted by
// the provider. The stored token is returned unchanged while its expiry is
// more than the safety buffer away; otherwise a refresh is attempted. When
// refresh retries are exhausted on transient failures, the stale token is
// returned as long as it has not technically expired; a momentarily
// unreachable refresh endpoint must not force a full re-login.
func (r *Refresher) GetValidToken(ctx context.Context, provider string) (string, error) {
	return r.token(ctx, provider, false)
}

// RefreshNow forces a refresh exchange regardless of the recorded expiry.
// Used when the provider rejected a token the store still considered valid.
func (r *Refresher) RefreshNow(ctx context.Context, provider string) (string, error) {
	return r.token(ctx, provider, true)
}

func (r *Refresher) token(ctx context.Context, provider string, force bool) (string, error) {
	cred, err := r.store.Load(ctx, provider)
	if err != nil {
		slog.Warn("credential load failed", slog.String("provider", provider), slog.Any("err", err))
		return "", errs.Wrap(errs.KindNotAuthenticated, "credential unavailable", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return "", errs.New(errs.KindNotAuthenticated, "no credential for "+provider)
	}

	now := r.clock.Now()
	fresh := cred.ExpiresAt.IsZero() || cred.ExpiresAt.After(now.Add(expirySkew))
	if fresh && !force {
		return cred.AccessToken, nil
	}

	fn := r.refreshFunc(provider)
	if cred.RefreshToken == "" || fn == nil {
		// Cannot silently renew. The stale token is still usable until it
		// actually expires.
		if cred.ExpiresAt.After(now) && !force {
			return cred.AccessToken, nil
		}
		r.store.ClearSoft(ctx, provider)
		return "", errs.New(errs.KindNotAuthenticated, provider+" token expired and no refresh token stored")
	}

	v, err, _ := r.group.Do(provider, func() (any, error) {
		return r.refresh(ctx, provider, cred, fn)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Refresher) refresh(ctx context.Context, provider string, cred *credstore.Credential, fn RefreshFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, err := fn(ctx, cred.RefreshToken)
		if err == nil {
			if res.RefreshToken == "" {
				res.RefreshToken = cred.RefreshToken
			}
			if res.Scope == "" {
				res.Scope = cred.Scope
			}
			r.store.SaveSoft(ctx, credstore.Credential{
				Provider:     provider,
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
				ExpiresAt:    res.ExpiresAt,
				Scope:        strings.TrimSpace(res.Scope),
			})
			telemetry.TokenRefreshed(provider, "success")
			slog.Info("token refreshed", slog.String("provider", provider))
			return res.AccessToken, nil
		}
		if IsInvalidGrant(err) {
			// The refresh token itself is dead; retrying would only risk
			// invalidation races. Clear and surface re-login.
			r.store.ClearSoft(ctx, provider)
			telemetry.TokenRefreshed(provider, "invalid_grant")
			return "", errs.Wrap(errs.KindNotAuthenticated, "refresh token rejected", err)
		}
		lastErr = err
		slog.Warn("token refresh attempt failed",
			slog.String("provider", provider),
			slog.Int("attempt", attempt),
			slog.Any("err", err))
		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-r.clock.After(time.Duration(attempt) * r.retryBase):
			}
		}
	}
	telemetry.TokenRefreshed(provider, "exhausted")
	if cred.ExpiresAt.After(r.clock.Now()) {
		slog.Warn("refresh exhausted, falling back to stale token", slog.String("provider", provider))
		return cred.AccessToken, nil
	}
	return "", errs.Wrap(errs.KindNotAuthenticated, "token refresh exhausted", lastErr)
}

// Invalidate marks the stored credential as expired so the next
// GetValidToken call performs a refresh. Used after a 401 on a token the
// store still considered fresh.
func (r *Refresher) Invalidate(ctx context.Context, provider string) {
	cred, err := r.store.Load(ctx, provider)
	if err != nil || cred == nil {
		return
	}
	cred.ExpiresAt = r.clock.Now().Add(-time.Second)
	r.store.SaveSoft(ctx, *cred)
}

// Clear drops the stored credential (explicit logout or irrecoverable 401).
func (r *Refresher) Clear(ctx context.Context, provider string) {
	r.store.ClearSoft(ctx, provider)
}

// TokenSource adapts the refresher to oauth2.TokenSource so API clients
// obtain a fresh valid token on every request rather than only at connect
// time.
func (r *Refresher) TokenSource(ctx context.Context, provider string) oauth2.TokenSource {
	return &refresherSource{ctx: ctx, provider: provider, r: r}
}

type refresherSource struct {
	ctx      context.Context
	provider string
	r        *Refresher
}

func (s *refresherSource) Token() (*oauth2.Token, error) {
	tok, err := s.r.GetValidToken(s.ctx, s.provider)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// IsInvalidGrant reports whether a refresh failure means the refresh token
// itself is invalid (terminal) rather than a transient exchange failure.
func IsInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	if errs.KindOf(err) == errs.KindNotAuthenticated {
		return true
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		body := strings.ToLower(string(re.Body))
		return strings.Contains(body, "invalid_grant") || strings.Contains(body, "invalid refresh token")
	}
	return false
}

// ComputeExpiry returns the absolute expiry for an expires_in value,
// defaulting to +60m when the provider omits it.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
