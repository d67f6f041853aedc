package oauth

import (
	"context"
	"log/slog"

	"github.com/chatspeakapp/chatspeak/backend/credstore"
)

// Provider identifiers used as credential store keys.
const (
	ProviderTwitch  = "twitch"
	ProviderYouTube = "youtube"
)

// Callback message types delivered by the redirect-capturing page.
const (
	CallbackTypeTwitch  = "twitch-oauth-callback"
	CallbackTypeYouTube = "youtube-oauth-callback"
)

// Callback is the payload posted back after a browser OAuth flow. The
// payload crosses a trust boundary, so every field is optional and handling
// never panics or errors on garbage input.
type Callback struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
}

// CallbackHandler routes callback payloads into the credential store.
type CallbackHandler struct {
	Store *credstore.Store
}

// Handle processes one callback payload. Unknown types are ignored. A
// payload carrying neither a token nor an error is a no-op (the page posts
// its message unconditionally, even when the user just closed the window).
// Provider errors are logged and leave any stored credential untouched.
// Returns the provider a token was stored for, or "".
func (h *CallbackHandler) Handle(ctx context.Context, cb Callback) string {
	var provider string
	switch cb.Type {
	case CallbackTypeTwitch:
		provider = ProviderTwitch
	case CallbackTypeYouTube:
		provider = ProviderYouTube
	default:
		if cb.Type != "" {
			slog.Debug("ignoring unknown callback type", slog.String("type", cb.Type))
		}
		return ""
	}

	if cb.Error != "" {
		slog.Warn("oauth flow returned error",
			slog.String("provider", provider),
			slog.String("err", cb.Error))
		return ""
	}
	if cb.Token == "" {
		return ""
	}

	h.Store.SaveSoft(ctx, credstore.Credential{
		Provider:     provider,
		AccessToken:  cb.Token,
		RefreshToken: cb.RefreshToken,
		ExpiresAt:    ComputeExpiry(cb.ExpiresIn),
		Scope:        cb.Scope,
	})
	slog.Info("credential stored from oauth callback", slog.String("provider", provider))
	return provider
}
