// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived *prometheus.CounterVec // labels: platform
	MessagesSpoken   *prometheus.CounterVec // labels: provider
	TokenRefreshes   *prometheus.CounterVec // labels: provider, outcome
	SessionErrors    *prometheus.CounterVec // labels: platform
	Reconnects       *prometheus.CounterVec // labels: platform

	// Histograms (seconds)
	SpeechDuration prometheus.Observer
	PollDuration   prometheus.Observer

	// Gauges
	ActiveSessions *prometheus.GaugeVec // labels: platform
	SpeechQueueLen prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatspeak_messages_received_total", Help: "Chat messages received after normalization"}, []string{"platform"})
		MessagesSpoken = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatspeak_messages_spoken_total", Help: "Trigger messages dispatched to speech synthesis"}, []string{"provider"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatspeak_token_refreshes_total", Help: "OAuth token refresh attempts by outcome"}, []string{"provider", "outcome"})
		SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatspeak_session_errors_total", Help: "Chat session errors surfaced to the user"}, []string{"platform"})
		Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatspeak_reconnects_total", Help: "Chat session reconnect attempts"}, []string{"platform"})
		SpeechDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatspeak_speech_duration_seconds", Help: "Speech synthesis and playback duration seconds", Buckets: prometheus.DefBuckets})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatspeak_poll_duration_seconds", Help: "Live chat poll round-trip duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chatspeak_active_sessions", Help: "Currently connected chat sessions"}, []string{"platform"})
		SpeechQueueLen = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatspeak_speech_queue_length", Help: "Messages waiting for speech synthesis"})
	})
}

// MessageReceived increments the received counter for a platform.
func MessageReceived(platform string) {
	if MessagesReceived != nil {
		MessagesReceived.WithLabelValues(platform).Inc()
	}
}

// TokenRefreshed records one refresh attempt outcome
// (success, invalid_grant, exhausted).
func TokenRefreshed(provider, outcome string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(provider, outcome).Inc()
	}
}

// SessionError increments the surfaced-error counter for a platform.
func SessionError(platform string) {
	if SessionErrors != nil {
		SessionErrors.WithLabelValues(platform).Inc()
	}
}

// Reconnect increments the reconnect counter for a platform.
func Reconnect(platform string) {
	if Reconnects != nil {
		Reconnects.WithLabelValues(platform).Inc()
	}
}

// SessionsChanged moves the active-session gauge for a platform by delta.
func SessionsChanged(platform string, delta int) {
	if ActiveSessions != nil {
		ActiveSessions.WithLabelValues(platform).Add(float64(delta))
	}
}

// SetSpeechQueueLen records the current speech queue depth.
func SetSpeechQueueLen(n int) {
	if SpeechQueueLen != nil {
		SpeechQueueLen.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
