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
	ChunksProduced          prometheus.Counter
	TranscriptionsSucceeded prometheus.Counter
	TranscriptionsFailed    prometheus.Counter
	ChatMessagesSeen        prometheus.Counter
	CommandsHandled         prometheus.Counter
	SilenceEvents           prometheus.Counter
	PromptsGenerated        prometheus.Counter
	PromptsDenied           prometheus.Counter
	PromptsSent             prometheus.Counter
	PromptCyclesAbandoned   prometheus.Counter
	SendsDelayed            prometheus.Counter
	StreamFetchRetries      prometheus.Counter

	// Histograms (seconds)
	TranscriptionDuration prometheus.Observer
	GenerationDuration    prometheus.Observer

	// Gauges
	SessionsActiveGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChunksProduced = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_audio_chunks_produced_total", Help: "Number of audio chunks sliced from the live stream"})
		TranscriptionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_transcriptions_succeeded_total", Help: "Number of audio chunks transcribed successfully"})
		TranscriptionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_transcriptions_failed_total", Help: "Number of audio chunks dropped after transcription failure"})
		ChatMessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_chat_messages_seen_total", Help: "Number of inbound chat messages observed"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_commands_handled_total", Help: "Number of privileged gremlin commands applied"})
		SilenceEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_silence_events_total", Help: "Number of qualifying silence events fired"})
		PromptsGenerated = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_prompts_generated_total", Help: "Number of prompt candidates returned by the generation service"})
		PromptsDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_prompts_denied_total", Help: "Number of prompt candidates denied by the moderation gate"})
		PromptsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_prompts_sent_total", Help: "Number of prompts delivered to chat"})
		PromptCyclesAbandoned = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_prompt_cycles_abandoned_total", Help: "Number of prompt cycles abandoned (no transcript, generation failure, or superseding chat activity)"})
		SendsDelayed = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_sends_delayed_total", Help: "Number of outbound sends held by the rate limiter"})
		StreamFetchRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "gremlin_stream_fetch_retries_total", Help: "Number of transient stream fetch failures retried"})
		TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "gremlin_transcription_duration_seconds", Help: "Transcription request duration seconds", Buckets: prometheus.DefBuckets})
		GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "gremlin_generation_duration_seconds", Help: "Prompt generation request duration seconds", Buckets: prometheus.DefBuckets})
		SessionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "gremlin_sessions_active", Help: "Current number of running channel sessions"})
	})
}

// SetSessionsActive records the current running session count.
func SetSessionsActive(n int) {
	if SessionsActiveGauge != nil {
		SessionsActiveGauge.Set(float64(n))
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
