// Command clipgremlin runs the live-stream chat gremlin. It:
//   - Loads configuration and initializes structured logging.
//   - Listens for Twitch EventSub stream.online/offline callbacks and runs one
//     session per live channel: audio capture, transcription, silence
//     detection, prompt generation, moderation gating, and rate-limited chat
//     delivery.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics
//     and the EventSub webhook.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clipgremlin/audio"
	"github.com/onnwee/clipgremlin/chat"
	"github.com/onnwee/clipgremlin/config"
	"github.com/onnwee/clipgremlin/openai"
	"github.com/onnwee/clipgremlin/server"
	"github.com/onnwee/clipgremlin/session"
	"github.com/onnwee/clipgremlin/telemetry"
	"github.com/onnwee/clipgremlin/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("clipgremlin", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var api *twitchapi.Client
	if err := cfg.ValidateSessionReady(); err != nil {
		slog.Warn("session credentials incomplete; sessions cannot start until configured", slog.Any("err", err))
	} else {
		api, err = twitchapi.New(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchBotToken)
		if err != nil {
			slog.Error("twitch client init failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	sv := session.NewSupervisor(sessionFactory(cfg, api))

	// If a channel is pinned via env and already live, start its session now
	// rather than waiting for the next stream.online callback.
	if cfg.ChannelName != "" && api != nil {
		go func() {
			info, err := api.GetStream(cfg.ChannelName)
			if err != nil {
				slog.Warn("live check failed for configured channel", slog.Any("err", err), slog.String("channel", cfg.ChannelName))
				return
			}
			if info == nil {
				slog.Info("configured channel is offline; waiting for stream.online", slog.String("channel", cfg.ChannelName))
				return
			}
			if err := sv.Start(ctx, cfg.ChannelName); err != nil {
				slog.Error("start session for configured channel", slog.Any("err", err), slog.String("channel", cfg.ChannelName))
			}
		}()
	}

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, cfg, sv)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	sv.StopAll(10 * time.Second)
}

// sessionFactory wires the concrete components for one channel: live stream
// lookup, HLS playback address, ffmpeg capture, the OpenAI client for
// transcription and generation, the AutoMod gate, and the IRC transport.
func sessionFactory(cfg *config.Config, api *twitchapi.Client) session.Factory {
	return func(ctx context.Context, channel string) (*session.Session, error) {
		if api == nil {
			return nil, fmt.Errorf("twitch client not configured")
		}
		if err := cfg.ValidateSessionReady(); err != nil {
			return nil, err
		}

		var broadcasterID string
		info, err := api.GetStream(channel)
		if err != nil {
			return nil, fmt.Errorf("live check: %w", err)
		}
		if info != nil {
			broadcasterID = info.UserID
		} else {
			// stream.online can race the streams endpoint; fall back to a
			// user lookup so the session can still come up.
			broadcasterID, err = api.ResolveUserID(channel)
			if err != nil {
				return nil, fmt.Errorf("resolve broadcaster: %w", err)
			}
		}

		streamURL := twitchapi.PlaybackURL(channel)
		if err := api.VerifyPlaylist(ctx, streamURL); err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}

		source := &audio.Source{
			StreamURL:     streamURL,
			FFmpegPath:    cfg.FFmpegPath,
			ChunkDuration: cfg.AudioChunkDuration(),
			MaxChunkBytes: cfg.MaxAudioSizeBytes(),
			Retry:         audio.DefaultRetryPolicy,
		}
		ai := &openai.Client{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}
		transport := chat.NewIRC(cfg.TwitchBotUsername, cfg.TwitchBotToken, channel)
		gate := &automodGate{api: api, broadcasterID: broadcasterID}

		sc := session.Config{
			Channel:          channel,
			SilenceThreshold: cfg.SilenceThreshold(),
			RateCap:          cfg.MaxMessageRate,
			RateWindow:       cfg.RateLimitWindow(),
		}
		return session.New(sc, source, ai, ai, gate, transport), nil
	}
}

// automodGate adapts the Helix AutoMod check to the per-session moderation
// interface with the broadcaster id resolved once at session start.
type automodGate struct {
	api           *twitchapi.Client
	broadcasterID string
}

func (g *automodGate) CheckMessage(_ context.Context, text string) (bool, error) {
	return g.api.CheckMessage(g.broadcasterID, text)
}
