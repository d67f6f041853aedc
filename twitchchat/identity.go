package twitchchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Identity resolves the login name behind a user access token via the Helix
// users endpoint. The IRC client needs the login to authenticate and to
// filter the bot's own messages.
type Identity struct {
	ClientID   string
	BaseURL    string // default https://api.twitch.tv/helix
	HTTPClient *http.Client
}

func (c *Identity) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Identity) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://api.twitch.tv/helix"
}

// Login returns the login of the user the token belongs to. Called without a
// login filter, the users endpoint describes the token owner.
func (c *Identity) Login(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/users", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix users status %d", resp.StatusCode)
	}
	var body struct {
		Data []struct {
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].Login == "" {
		return "", fmt.Errorf("token owner not found")
	}
	return body.Data[0].Login, nil
}
