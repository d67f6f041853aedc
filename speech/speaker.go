package speech

import (
	"context"
	"log/slog"
)

// Options tune a single synthesis request. Zero values fall back to the
// provider defaults.
type Options struct {
	Voice  string
	Model  string
	Volume float64 // 0..1
}

// Speaker synthesizes and plays one utterance, returning when playback is
// done or failed.
type Speaker interface {
	Speak(ctx context.Context, text string, opts Options) error
}

// Noop is the Speaker for TTS_PROVIDER=none: triggers are recognized and
// logged but nothing is synthesized.
type Noop struct{}

func (Noop) Speak(ctx context.Context, text string, opts Options) error {
	slog.Debug("speech disabled, dropping utterance", slog.Int("len", len(text)))
	return nil
}
