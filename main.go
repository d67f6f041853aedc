// Command backend is the chat-to-speech companion service. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the local credential store and starts the OAuth token refresher.
//   - Connects Twitch IRC and YouTube live chat sessions and normalizes
//     their messages into one stream.
//   - Reads trigger-prefixed messages aloud through the configured speech
//     provider, one at a time.
//   - Exposes a local HTTP server with /healthz, /status, /metrics, and the
//     OAuth endpoints the UI drives.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/chatspeakapp/chatspeak/backend/config"
	"github.com/chatspeakapp/chatspeak/backend/credstore"
	"github.com/chatspeakapp/chatspeak/backend/normalize"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
	"github.com/chatspeakapp/chatspeak/backend/server"
	"github.com/chatspeakapp/chatspeak/backend/speech"
	"github.com/chatspeakapp/chatspeak/backend/telemetry"
	"github.com/chatspeakapp/chatspeak/backend/twitchchat"
	"github.com/chatspeakapp/chatspeak/backend/youtubechat"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chatspeak", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Credential store
	store, err := credstore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open credential store", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Token refresher with per-provider refresh exchanges
	refresher := oauth.NewRefresher(store)
	refresher.Register(oauth.ProviderTwitch, oauth.NewTwitchOAuth(cfg).Refresh)
	refresher.Register(oauth.ProviderYouTube, oauth.YouTubeRefresh(oauth.YouTubeConfig(cfg)))

	// Speech pipeline: trigger match feeds a queue that speaks serially.
	var speaker speech.Speaker = speech.Noop{}
	if cfg.TTSProvider == "elevenlabs" {
		el := &speech.ElevenLabs{APIKey: cfg.ElevenLabsAPIKey}
		if dir := os.Getenv("TTS_SPOOL_DIR"); dir != "" {
			// Spool synthesized audio to disk for the playback side to pick up.
			if err := os.MkdirAll(dir, 0o755); err != nil {
				slog.Error("failed to create spool dir", slog.Any("err", err))
				os.Exit(1)
			}
			el.Play = func(ctx context.Context, audio []byte, volume float64) error {
				return os.WriteFile(filepath.Join(dir, uuid.NewString()+".mp3"), audio, 0o644)
			}
		}
		speaker = el
	}
	trigger := speech.Trigger{Prefix: cfg.TriggerPrefix}
	queue := speech.NewQueue(speaker, speech.Options{
		Voice:  cfg.ElevenLabsVoice,
		Model:  cfg.ElevenLabsModel,
		Volume: cfg.TTSVolume,
	})
	go queue.Run(ctx)

	onMessage := func(msg normalize.Message) {
		slog.Debug("chat message",
			slog.String("platform", string(msg.Platform)),
			slog.String("channel", msg.Channel),
			slog.String("author", msg.Author))
		if text, ok := trigger.Match(msg.Text); ok {
			queue.Enqueue(text)
		}
	}

	// Twitch sessions
	twitchMgr := twitchchat.NewManager(twitchchat.Options{
		Refresher:   refresher,
		Identity:    &twitchchat.Identity{ClientID: cfg.TwitchClientID},
		BotUsername: cfg.TwitchBotUsername,
		OnMessage:   onMessage,
		OnError: func(channel string, err error) {
			slog.Warn("twitch session error", slog.String("channel", channel), slog.Any("err", err))
		},
	})
	for _, channel := range strings.Fields(strings.ReplaceAll(os.Getenv("TWITCH_CHANNELS"), ",", " ")) {
		if err := twitchMgr.Connect(ctx, channel); err != nil {
			slog.Warn("twitch connect failed", slog.String("channel", channel), slog.Any("err", err))
		}
	}

	// YouTube session: attach to the first active broadcast when requested.
	ytSvc := youtubechat.New(refresher, cfg.YTPollFallback)
	var ytSession *youtubechat.Session
	if os.Getenv("YT_AUTO_CONNECT") == "1" {
		broadcasts, err := ytSvc.FetchLiveBroadcasts(ctx)
		switch {
		case err != nil:
			slog.Warn("youtube broadcast discovery failed", slog.Any("err", err))
		case len(broadcasts) == 0:
			slog.Info("no active youtube broadcast")
		default:
			b := broadcasts[0]
			sess, err := ytSvc.Connect(ctx, b.LiveChatID, b.ChannelID, onMessage, func(err error) {
				slog.Warn("youtube session ended", slog.String("broadcast", b.ID), slog.Any("err", err))
			})
			if err != nil {
				slog.Warn("youtube connect failed", slog.String("broadcast", b.ID), slog.Any("err", err))
			} else {
				ytSession = sess
				slog.Info("youtube live chat connected", slog.String("broadcast", b.ID), slog.String("title", b.Title))
			}
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/oauth)
	handlers := server.NewHandlers(cfg, store, twitchMgr)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	twitchMgr.DisconnectAll()
	if ytSession != nil {
		ytSession.Disconnect()
	}
}
