package speech

import (
	"context"
	"log/slog"

	"github.com/chatspeakapp/chatspeak/backend/telemetry"
)

const defaultQueueSize = 32

// Queue serializes speech so utterances never overlap. Enqueue never
// blocks chat handling: when the queue is full the message is dropped with
// a warning rather than delaying the session callbacks.
type Queue struct {
	speaker Speaker
	opts    Options
	jobs    chan string
	done    chan struct{}
}

// NewQueue builds a queue in front of speaker. Run must be started for
// enqueued text to be spoken.
func NewQueue(speaker Speaker, opts Options) *Queue {
	return &Queue{
		speaker: speaker,
		opts:    opts,
		jobs:    make(chan string, defaultQueueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules text for synthesis. Returns false when the queue is
// full and the text was dropped.
func (q *Queue) Enqueue(text string) bool {
	select {
	case q.jobs <- text:
		telemetry.SetSpeechQueueLen(len(q.jobs))
		return true
	default:
		slog.Warn("speech queue full, dropping message", slog.Int("len", len(text)))
		return false
	}
}

// Len returns the number of waiting utterances.
func (q *Queue) Len() int { return len(q.jobs) }

// Run drains the queue until ctx is canceled, speaking one utterance at a
// time. Synthesis failures are logged; they never stop the queue.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-q.jobs:
			telemetry.SetSpeechQueueLen(len(q.jobs))
			d := telemetry.TimeFunc(telemetry.SpeechDuration, func() {
				if err := q.speaker.Speak(ctx, text, q.opts); err != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Warn("speech synthesis failed", slog.Any("err", err))
					return
				}
				if telemetry.MessagesSpoken != nil {
					telemetry.MessagesSpoken.WithLabelValues("elevenlabs").Inc()
				}
			})
			slog.Debug("utterance finished", slog.Duration("took", d))
		}
	}
}

// Wait blocks until Run has exited.
func (q *Queue) Wait() { <-q.done }
