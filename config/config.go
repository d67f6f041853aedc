// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required OAuth credentials, use ValidateTwitchOAuth / ValidateYouTubeOAuth.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string
	TwitchBotUsername  string

	// YouTube OAuth
	YTClientID     string
	YTClientSecret string
	YTRedirectURI  string
	YTScopes       string

	// Speech
	TriggerPrefix    string
	TTSProvider      string // none | elevenlabs
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string
	TTSVolume        float64

	// Storage
	DBPath string

	// HTTP
	HTTPAddr string

	// Polling
	YTPollFallback time.Duration
}

// Load reads environment variables and applies defaults. Missing OAuth
// credentials don't fail the load; they disable the corresponding platform
// until the user authenticates.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// read-only chat access
		cfg.TwitchScopes = "chat:read"
	}
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")

	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = os.Getenv("YT_REDIRECT_URI")
	cfg.YTScopes = os.Getenv("YT_SCOPES")
	if cfg.YTScopes == "" {
		cfg.YTScopes = "https://www.googleapis.com/auth/youtube.readonly"
	}

	cfg.TriggerPrefix = os.Getenv("TRIGGER_PREFIX")
	if cfg.TriggerPrefix == "" {
		cfg.TriggerPrefix = "!г"
	}
	cfg.TTSProvider = os.Getenv("TTS_PROVIDER")
	if cfg.TTSProvider == "" {
		cfg.TTSProvider = "none"
	}
	cfg.ElevenLabsAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	cfg.ElevenLabsVoice = os.Getenv("ELEVENLABS_VOICE_ID")
	if cfg.ElevenLabsVoice == "" {
		cfg.ElevenLabsVoice = "IKne3meq5aSn9XLyUdCD"
	}
	cfg.ElevenLabsModel = os.Getenv("ELEVENLABS_MODEL_ID")
	if cfg.ElevenLabsModel == "" {
		cfg.ElevenLabsModel = "eleven_multilingual_v2"
	}
	cfg.TTSVolume = 1.0
	if v := os.Getenv("TTS_VOLUME"); v != "" {
		var vol float64
		if _, err := fmt.Sscanf(v, "%f", &vol); err != nil || vol < 0 || vol > 1 {
			return nil, fmt.Errorf("invalid TTS_VOLUME (want 0..1): %q", v)
		}
		cfg.TTSVolume = vol
	}

	cfg.DBPath = os.Getenv("DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "data/chatspeak.db"
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.YTPollFallback = 10 * time.Second
	if v := os.Getenv("YT_POLL_FALLBACK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid YT_POLL_FALLBACK: %q", v)
		}
		cfg.YTPollFallback = d
	}

	return cfg, nil
}

// ValidateTwitchOAuth checks the fields required to run the Twitch OAuth flow.
func (c *Config) ValidateTwitchOAuth() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" || c.TwitchRedirectURI == "" {
		return fmt.Errorf("missing twitch oauth env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_REDIRECT_URI")
	}
	return nil
}

// ValidateYouTubeOAuth checks the fields required to run the YouTube OAuth flow.
func (c *Config) ValidateYouTubeOAuth() error {
	if c.YTClientID == "" || c.YTClientSecret == "" || c.YTRedirectURI == "" {
		return fmt.Errorf("missing youtube oauth env: require YT_CLIENT_ID, YT_CLIENT_SECRET, YT_REDIRECT_URI")
	}
	return nil
}
