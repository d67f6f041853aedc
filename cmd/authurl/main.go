// Command authurl prints the OAuth authorize URL for a provider so a user
// can complete the browser flow by hand when the UI is unavailable.
//
// Usage:
//
//	authurl twitch
//	authurl youtube
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/chatspeakapp/chatspeak/backend/config"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
)

func main() {
	_ = godotenv.Load("backend/.env")

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: authurl twitch|youtube")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// The printed state is informational only; the server-side flow
	// generates and verifies its own.
	state := uuid.NewString()

	switch os.Args[1] {
	case oauth.ProviderTwitch:
		if err := cfg.ValidateTwitchOAuth(); err != nil {
			slog.Error("twitch oauth not configured", slog.Any("err", err))
			os.Exit(1)
		}
		fmt.Println(oauth.NewTwitchOAuth(cfg).BuildAuthorizeURL(cfg.TwitchRedirectURI, cfg.TwitchScopes, state))
	case oauth.ProviderYouTube:
		if err := cfg.ValidateYouTubeOAuth(); err != nil {
			slog.Error("youtube oauth not configured", slog.Any("err", err))
			os.Exit(1)
		}
		fmt.Println(oauth.YouTubeConfig(cfg).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))
	default:
		fmt.Fprintf(os.Stderr, "unknown provider %q\n", os.Args[1])
		os.Exit(2)
	}
}
