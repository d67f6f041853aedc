package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TwitchScopes != "chat:read" {
		t.Errorf("TwitchScopes = %q, want chat:read", cfg.TwitchScopes)
	}
	if cfg.YTScopes != "https://www.googleapis.com/auth/youtube.readonly" {
		t.Errorf("YTScopes = %q", cfg.YTScopes)
	}
	if cfg.TriggerPrefix != "!г" {
		t.Errorf("TriggerPrefix = %q, want !г", cfg.TriggerPrefix)
	}
	if cfg.TTSProvider != "none" {
		t.Errorf("TTSProvider = %q, want none", cfg.TTSProvider)
	}
	if cfg.DBPath != "data/chatspeak.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.YTPollFallback != 10*time.Second {
		t.Errorf("YTPollFallback = %v, want 10s", cfg.YTPollFallback)
	}
	if cfg.TTSVolume != 1.0 {
		t.Errorf("TTSVolume = %v, want 1.0", cfg.TTSVolume)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRIGGER_PREFIX", "!say")
	t.Setenv("YT_POLL_FALLBACK", "5s")
	t.Setenv("TTS_VOLUME", "0.5")
	t.Setenv("TWITCH_SCOPES", "chat:read chat:edit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TriggerPrefix != "!say" {
		t.Errorf("TriggerPrefix = %q, want !say", cfg.TriggerPrefix)
	}
	if cfg.YTPollFallback != 5*time.Second {
		t.Errorf("YTPollFallback = %v, want 5s", cfg.YTPollFallback)
	}
	if cfg.TTSVolume != 0.5 {
		t.Errorf("TTSVolume = %v, want 0.5", cfg.TTSVolume)
	}
	if cfg.TwitchScopes != "chat:read chat:edit" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("YT_POLL_FALLBACK", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Error("Load() should fail on invalid YT_POLL_FALLBACK")
	}

	t.Setenv("YT_POLL_FALLBACK", "")
	t.Setenv("TTS_VOLUME", "2.5")
	if _, err := Load(); err == nil {
		t.Error("Load() should fail on out-of-range TTS_VOLUME")
	}
}

func TestValidateTwitchOAuth(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateTwitchOAuth(); err == nil {
		t.Error("ValidateTwitchOAuth() should fail with empty fields")
	}
	cfg = &Config{TwitchClientID: "id", TwitchClientSecret: "secret", TwitchRedirectURI: "http://localhost:3000/callback"}
	if err := cfg.ValidateTwitchOAuth(); err != nil {
		t.Errorf("ValidateTwitchOAuth() error = %v", err)
	}
}

func TestValidateYouTubeOAuth(t *testing.T) {
	cfg := &Config{YTClientID: "id"}
	if err := cfg.ValidateYouTubeOAuth(); err == nil {
		t.Error("ValidateYouTubeOAuth() should fail with partial fields")
	}
	cfg = &Config{YTClientID: "id", YTClientSecret: "secret", YTRedirectURI: "http://localhost:3000/callback"}
	if err := cfg.ValidateYouTubeOAuth(); err != nil {
		t.Errorf("ValidateYouTubeOAuth() error = %v", err)
	}
}
