package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatspeakapp/chatspeak/backend/config"
	"github.com/chatspeakapp/chatspeak/backend/errs"
)

const (
	twitchTokenURL     = "https://id.twitch.tv/oauth2/token"
	twitchAuthorizeURL = "https://id.twitch.tv/oauth2/authorize"
)

// TwitchOAuth talks to the Twitch identity service. TokenURL and HTTPClient
// are overridable for tests.
type TwitchOAuth struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthorizeURL string
	HTTPClient   *http.Client
}

// NewTwitchOAuth builds a client from config.
func NewTwitchOAuth(cfg *config.Config) *TwitchOAuth {
	return &TwitchOAuth{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
}

func (t *TwitchOAuth) tokenURL() string {
	if t.TokenURL != "" {
		return t.TokenURL
	}
	return twitchTokenURL
}

func (t *TwitchOAuth) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

type twitchTokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
}

// Refresh exchanges a refresh token for a new token pair.
func (t *TwitchOAuth) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {t.ClientID},
		"client_secret": {t.ClientSecret},
	}
	return t.tokenRequest(ctx, form)
}

// Exchange trades an authorization code for a token pair (code flow).
func (t *TwitchOAuth) Exchange(ctx context.Context, code, redirectURI string) (*RefreshResult, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {t.ClientID},
		"client_secret": {t.ClientSecret},
	}
	return t.tokenRequest(ctx, form)
}

func (t *TwitchOAuth) tokenRequest(ctx context.Context, form url.Values) (*RefreshResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twitch token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientNetwork, "twitch token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("twitch token endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// Twitch reports a dead refresh token as 400/401 with an
			// "Invalid refresh token" message.
			return nil, errs.New(errs.KindNotAuthenticated, msg)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errs.New(errs.KindRateLimited, msg)
		default:
			return nil, errs.New(errs.KindTransientNetwork, msg)
		}
	}

	var tr twitchTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "twitch token response decode", err)
	}
	if tr.AccessToken == "" {
		return nil, errs.New(errs.KindUpstream, "twitch token response missing access_token")
	}
	return &RefreshResult{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    ComputeExpiry(tr.ExpiresIn),
		Scope:        strings.Join(tr.Scope, " "),
	}, nil
}

// BuildAuthorizeURL returns the user-facing consent URL for the code flow.
func (t *TwitchOAuth) BuildAuthorizeURL(redirectURI, scopes, state string) string {
	base := t.AuthorizeURL
	if base == "" {
		base = twitchAuthorizeURL
	}
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {t.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {scopes},
	}
	if state != "" {
		q.Set("state", state)
	}
	return base + "?" + q.Encode()
}
