package youtubechat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatspeakapp/chatspeak/backend/errs"
	"github.com/chatspeakapp/chatspeak/backend/normalize"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
	"github.com/chatspeakapp/chatspeak/backend/telemetry"
)

const (
	// maxConsecutiveFailures fail-stops the poll loop: transient hiccups
	// retry with backoff, but a chat that keeps failing is declared dead
	// with a single error instead of polling forever.
	maxConsecutiveFailures = 3

	backoffStep     = 15 * time.Second
	backoffCeiling  = 60 * time.Second
	disconnectGrace = 3 * time.Second
)

// Session polls one live chat. Messages arrive on OnMessage in API order;
// OnError fires at most once, when the session gives up, and never after
// Disconnect has returned.
type Session struct {
	svc       *Service
	chatID    string
	channel   string
	onMessage func(normalize.Message)
	onError   func(err error)

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
	gone   sync.Once
}

// Connect starts polling the given live chat. The channel identifies the
// broadcast owner in normalized messages.
func (s *Service) Connect(ctx context.Context, liveChatID, channel string, onMessage func(normalize.Message), onError func(err error)) (*Session, error) {
	if liveChatID == "" {
		// A broadcast without a chat feed has ended or has chat disabled.
		return nil, errs.New(errs.KindUpstreamEnded, "broadcast has no live chat")
	}
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		svc:       s,
		chatID:    liveChatID,
		channel:   channel,
		onMessage: onMessage,
		onError:   onError,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	telemetry.SessionsChanged("youtube", 1)
	go sess.run(sctx)
	return sess, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.gone.Do(func() { telemetry.SessionsChanged("youtube", -1) })

	api, err := s.svc.api(ctx)
	if err != nil {
		s.emitError(err)
		return
	}

	var pageToken string
	failures := 0
	interval := s.svc.pollFallback

	for {
		if ctx.Err() != nil {
			return
		}

		call := api.LiveChatMessages.List(s.chatID, []string{"snippet", "authorDetails"})
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		start := time.Now()
		resp, err := call.Context(ctx).Do()
		if telemetry.PollDuration != nil {
			telemetry.PollDuration.Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cerr := classifyAPIError(err)
			switch errs.KindOf(cerr) {
			case errs.KindAuthExpired:
				// Force a refresh; the per-request token source picks up the
				// renewed token on the next cycle.
				s.svc.refresher.Invalidate(ctx, oauth.ProviderYouTube)
			case errs.KindUpstreamEnded, errs.KindPermissionDenied:
				// Not retryable at all.
				s.emitError(cerr)
				return
			}
			failures++
			telemetry.Reconnect("youtube")
			slog.Warn("youtube poll failed",
				slog.String("chat_id", s.chatID),
				slog.Int("consecutive", failures),
				slog.Any("err", cerr))
			if failures >= maxConsecutiveFailures {
				s.emitError(cerr)
				return
			}
			wait := time.Duration(failures) * backoffStep
			if wait > backoffCeiling {
				wait = backoffCeiling
			}
			select {
			case <-ctx.Done():
				return
			case <-s.svc.clock.After(wait):
			}
			continue
		}

		failures = 0
		pageToken = resp.NextPageToken
		for _, item := range resp.Items {
			// Super chats, membership events, and deletion tombstones share
			// the page with regular messages; only plain text is read out.
			if item.Snippet == nil || item.Snippet.Type != "textMessageEvent" {
				continue
			}
			msg := normalize.FromYouTube(s.channel, item)
			telemetry.MessageReceived(string(normalize.PlatformYouTube))
			s.emit(msg)
		}
		if resp.OfflineAt != "" {
			s.emitError(errs.New(errs.KindUpstreamEnded, "live chat has ended"))
			return
		}

		interval = s.svc.pollFallback
		if resp.PollingIntervalMillis > 0 {
			interval = time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-s.svc.clock.After(interval):
		}
	}
}

func (s *Session) emit(m normalize.Message) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.onMessage == nil {
		return
	}
	s.onMessage(m)
}

func (s *Session) emitError(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	telemetry.SessionError("youtube")
	if s.onError != nil {
		s.onError(err)
	}
}

// Disconnect stops the session. Safe to call multiple times, including from
// inside a callback. Once it returns, neither callback fires again; if the
// poll loop does not wind down within the grace period the session is
// abandoned.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
	case <-s.svc.clock.After(disconnectGrace):
		slog.Warn("youtube session disconnect timed out", slog.String("chat_id", s.chatID))
	}
	s.gone.Do(func() { telemetry.SessionsChanged("youtube", -1) })
}
