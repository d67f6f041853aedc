package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/chatspeakapp/chatspeak/backend/config"
	"github.com/chatspeakapp/chatspeak/backend/errs"
)

// YouTubeConfig builds the oauth2 config for the Google code flow.
func YouTubeConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       strings.Fields(cfg.YTScopes),
		Endpoint:     google.Endpoint,
	}
}

// YouTubeRefresh adapts the oauth2 config's refresh exchange to RefreshFunc.
func YouTubeRefresh(oc *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*RefreshResult, error) {
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := ts.Token()
		if err != nil {
			return nil, classifyGoogleTokenErr(err)
		}
		res := &RefreshResult{
			AccessToken: tok.AccessToken,
			// Google normally omits refresh_token on refresh responses; the
			// refresher keeps the stored one in that case.
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.Expiry,
		}
		if res.ExpiresAt.IsZero() {
			res.ExpiresAt = ComputeExpiry(0)
		}
		return res, nil
	}
}

func classifyGoogleTokenErr(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if IsInvalidGrant(re) {
			return errs.Wrap(errs.KindNotAuthenticated, "google refresh token rejected", err)
		}
		if re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
			return errs.Wrap(errs.KindRateLimited, "google token endpoint rate limited", err)
		}
		return errs.Wrap(errs.KindTransientNetwork, "google token exchange failed", err)
	}
	return errs.Wrap(errs.KindTransientNetwork, "google token endpoint unreachable", err)
}
