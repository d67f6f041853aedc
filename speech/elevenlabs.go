package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatspeakapp/chatspeak/backend/errs"
)

const (
	// DefaultVoiceID and DefaultModelID match the voice the companion
	// ships with; both are overridable per request.
	DefaultVoiceID = "IKne3meq5aSn9XLyUdCD"
	DefaultModelID = "eleven_multilingual_v2"

	defaultVoiceStability  = 0.5
	defaultSimilarityBoost = 0.5
)

// PlayFunc plays an audio payload at the given volume. Injected so tests
// (and headless builds) run without an audio device.
type PlayFunc func(ctx context.Context, audio []byte, volume float64) error

// ElevenLabs synthesizes speech through the ElevenLabs REST API.
type ElevenLabs struct {
	APIKey     string
	BaseURL    string // default https://api.elevenlabs.io
	HTTPClient *http.Client
	Play       PlayFunc
}

func (e *ElevenLabs) baseURL() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	return "https://api.elevenlabs.io"
}

func (e *ElevenLabs) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Speak synthesizes text and hands the audio to the play function.
func (e *ElevenLabs) Speak(ctx context.Context, text string, opts Options) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	voice := opts.Voice
	if voice == "" {
		voice = DefaultVoiceID
	}
	model := opts.Model
	if model == "" {
		model = DefaultModelID
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: model,
		VoiceSettings: voiceSettings{
			Stability:       defaultVoiceStability,
			SimilarityBoost: defaultSimilarityBoost,
		},
	})
	if err != nil {
		return fmt.Errorf("elevenlabs request encode: %w", err)
	}

	endpoint := e.baseURL() + "/v1/text-to-speech/" + url.PathEscape(voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.client().Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransientNetwork, "elevenlabs unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("elevenlabs status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errs.New(errs.KindNotAuthenticated, msg)
		case resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.KindRateLimited, msg)
		case resp.StatusCode >= 500:
			return errs.New(errs.KindTransientNetwork, msg)
		default:
			return errs.New(errs.KindUpstream, msg)
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindTransientNetwork, "elevenlabs audio read", err)
	}
	if e.Play == nil {
		return nil
	}
	volume := opts.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}
	return e.Play(ctx, audio, volume)
}
