// Package twitchchat manages read-only Twitch IRC sessions: one client per
// joined channel, automatic reconnect, forced token refresh on rejected
// logins, and debounced error reporting.
package twitchchat

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/jonboulle/clockwork"

	"github.com/chatspeakapp/chatspeak/backend/errs"
	"github.com/chatspeakapp/chatspeak/backend/normalize"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
	"github.com/chatspeakapp/chatspeak/backend/telemetry"
)

const (
	defaultDisconnectGrace = 3 * time.Second
	defaultReconnectDelay  = 2 * time.Second
	errorDebounceWindow    = 10 * time.Second
)

// Twitch login rules: word characters, 2 to 25 long. Checked before any
// network work so a typo fails synchronously.
var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,25}$`)

// anonymousLogin is Twitch's well-known read-only login prefix; joining with
// it needs no valid token.
const anonymousLogin = "justinfan1337"

// IRCClient is the subset of the IRC client the manager drives, extracted so
// tests can substitute a fake.
type IRCClient interface {
	OnPrivateMessage(func(twitchirc.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Options configures a Manager. Refresher is required; everything else has a
// working default.
type Options struct {
	Refresher   *oauth.Refresher
	Identity    *Identity
	BotUsername string // fallback login when identity resolution fails

	OnMessage func(normalize.Message)
	OnError   func(channel string, err error)

	Clock           clockwork.Clock
	NewClient       func(username, oauthToken string) IRCClient
	DisconnectGrace time.Duration
	ReconnectDelay  time.Duration
}

// Manager owns all live Twitch chat sessions.
type Manager struct {
	opts     Options
	clock    clockwork.Clock
	reporter *errorReporter

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
	dropped sync.Once
}

// NewManager builds a Manager from options.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewClient == nil {
		opts.NewClient = func(username, token string) IRCClient {
			return twitchirc.NewClient(username, token)
		}
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = defaultDisconnectGrace
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	m := &Manager{
		opts:     opts,
		clock:    opts.Clock,
		sessions: make(map[string]*session),
	}
	m.reporter = newErrorReporter(errorDebounceWindow, opts.Clock, func(channel string, err error) {
		telemetry.SessionError("twitch")
		if opts.OnError != nil {
			opts.OnError(channel, err)
		}
	})
	return m
}

// Connect validates the channel name and starts a session for it. Validation
// failures return synchronously; connection and authentication failures are
// delivered through OnError. Connecting to an already-joined channel is a
// no-op.
func (m *Manager) Connect(ctx context.Context, channel string) error {
	channel = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(channel, "#")))
	if !channelPattern.MatchString(channel) {
		return errs.New(errs.KindInvalidIdentifier, "invalid twitch channel name: "+channel)
	}

	m.mu.Lock()
	if _, ok := m.sessions[channel]; ok {
		m.mu.Unlock()
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{channel: channel, cancel: cancel, done: make(chan struct{})}
	m.sessions[channel] = s
	m.mu.Unlock()

	telemetry.SessionsChanged("twitch", 1)
	go m.run(sctx, s)
	return nil
}

// Connected reports whether a session is tracked for the channel.
func (m *Manager) Connected(channel string) bool {
	channel = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(channel, "#")))
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[channel]
	return ok
}

// Channels returns the currently joined channels.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for ch := range m.sessions {
		out = append(out, ch)
	}
	return out
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer m.drop(s)

	authRetried := false
	for {
		if ctx.Err() != nil {
			return
		}
		token, err := m.opts.Refresher.GetValidToken(ctx, oauth.ProviderTwitch)
		if err != nil {
			m.reporter.Report(s.channel, err)
			return
		}

		login := m.resolveLogin(ctx, token)
		client := m.opts.NewClient(login, "oauth:"+token)

		var connected atomic.Bool
		client.OnConnect(func() {
			connected.Store(true)
			slog.Info("twitch chat connected", slog.String("channel", s.channel), slog.String("login", login))
		})
		client.OnPrivateMessage(func(pm twitchirc.PrivateMessage) {
			// The companion must not read its own messages back.
			if strings.EqualFold(pm.User.Name, login) {
				return
			}
			msg := normalize.FromTwitch(pm)
			telemetry.MessageReceived(string(normalize.PlatformTwitch))
			if m.opts.OnMessage != nil {
				m.opts.OnMessage(msg)
			}
		})
		client.Join(s.channel)

		// Deliberate shutdown reaches the blocking Connect via Disconnect.
		watch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = client.Disconnect()
			case <-watch:
			}
		}()
		err = client.Connect()
		close(watch)

		if ctx.Err() != nil {
			return
		}
		if connected.Load() {
			// A session that got as far as a welcome proved the token; a
			// later auth failure deserves a fresh forced-refresh attempt.
			authRetried = false
		}

		switch {
		case errors.Is(err, twitchirc.ErrLoginAuthenticationFailed):
			if !authRetried {
				authRetried = true
				if _, rerr := m.opts.Refresher.RefreshNow(ctx, oauth.ProviderTwitch); rerr == nil {
					telemetry.Reconnect("twitch")
					continue
				}
			}
			m.reporter.Report(s.channel, errs.Wrap(errs.KindAuthExpired, "twitch chat login rejected", err))
			return
		case err == nil || isKeepAliveError(err):
			// Routine server-side connection turnover; reconnect quietly.
			telemetry.Reconnect("twitch")
		default:
			telemetry.Reconnect("twitch")
			m.reporter.Report(s.channel, errs.Wrap(errs.KindTransientNetwork, "twitch chat connection error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.opts.ReconnectDelay):
		}
	}
}

func (m *Manager) resolveLogin(ctx context.Context, token string) string {
	if m.opts.Identity != nil {
		if login, err := m.opts.Identity.Login(ctx, token); err == nil {
			return login
		} else {
			slog.Warn("twitch identity lookup failed", slog.Any("err", err))
		}
	}
	if m.opts.BotUsername != "" {
		return m.opts.BotUsername
	}
	return anonymousLogin
}

// Disconnect leaves a channel. The call is bounded: if the client does not
// confirm within the grace period the session is abandoned anyway.
// Disconnecting an unknown channel is a no-op.
func (m *Manager) Disconnect(channel string) {
	channel = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(channel, "#")))
	m.mu.Lock()
	s := m.sessions[channel]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-m.clock.After(m.opts.DisconnectGrace):
		slog.Warn("twitch disconnect timed out, abandoning session", slog.String("channel", channel))
	}
	m.drop(s)
}

// DisconnectAll leaves every channel, in parallel, each bounded by the
// disconnect grace period.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	channels := make([]string, 0, len(m.sessions))
	for ch := range m.sessions {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			m.Disconnect(ch)
		}(ch)
	}
	wg.Wait()
}

func (m *Manager) drop(s *session) {
	m.mu.Lock()
	if m.sessions[s.channel] == s {
		delete(m.sessions, s.channel)
	}
	m.mu.Unlock()
	s.dropped.Do(func() {
		telemetry.SessionsChanged("twitch", -1)
	})
}

// isKeepAliveError matches the ping-timeout family of disconnects the IRC
// server uses for connection hygiene. These never indicate a problem with
// the channel or the token.
func isKeepAliveError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "ping") || strings.Contains(msg, "keepalive") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "eof")
}
