package twitchchat

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// errorReporter debounces repeated identical errors per channel so a flapping
// connection surfaces one notification per window instead of a burst. Stale
// entries are swept on each report.
type errorReporter struct {
	window time.Duration
	clock  clockwork.Clock
	emit   func(channel string, err error)

	mu   sync.Mutex
	seen map[string]time.Time
}

func newErrorReporter(window time.Duration, clock clockwork.Clock, emit func(channel string, err error)) *errorReporter {
	return &errorReporter{
		window: window,
		clock:  clock,
		emit:   emit,
		seen:   make(map[string]time.Time),
	}
}

// Report emits the error unless the same (channel, message) pair was emitted
// within the window.
func (r *errorReporter) Report(channel string, err error) {
	if err == nil {
		return
	}
	key := channel + "\x00" + err.Error()
	now := r.clock.Now()

	r.mu.Lock()
	for k, ts := range r.seen {
		if now.Sub(ts) >= r.window {
			delete(r.seen, k)
		}
	}
	if ts, ok := r.seen[key]; ok && now.Sub(ts) < r.window {
		r.mu.Unlock()
		return
	}
	r.seen[key] = now
	r.mu.Unlock()

	if r.emit != nil {
		r.emit(channel, err)
	}
}
