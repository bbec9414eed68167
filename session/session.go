// Package session owns the per-channel coordination pipeline: it wires audio
// capture, transcription, chat ingestion, silence detection and prompt
// generation together for one live broadcast, and is the single place that
// mutates shared session state.
//
// A Session runs three concurrent activities that must not block each other:
// audio ingestion/transcription, chat ingestion (activity tracking + command
// parsing), and silence-triggered prompt generation. All network calls are
// bounded by timeouts inside the respective clients; session end cancels
// everything through one context.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/clipgremlin/audio"
	"github.com/onnwee/clipgremlin/chat"
	"github.com/onnwee/clipgremlin/openai"
	"github.com/onnwee/clipgremlin/ratelimit"
	"github.com/onnwee/clipgremlin/silence"
	"github.com/onnwee/clipgremlin/telemetry"
)

// State is the command-driven session state.
type State int32

const (
	StateActive State = iota
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ChunkSource produces ordered audio chunks until its context is canceled.
type ChunkSource interface {
	Run(ctx context.Context, out chan<- audio.Chunk) error
}

// Transcriber turns one WAV chunk into text plus detected language.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (openai.Transcription, error)
}

// Generator produces one prompt candidate from recent transcript text.
type Generator interface {
	GeneratePrompt(ctx context.Context, transcript, language string) (string, error)
}

// Moderator is the binary moderation gate applied before delivery.
type Moderator interface {
	CheckMessage(ctx context.Context, text string) (bool, error)
}

// Transport is the chat boundary: an inbound event stream and an outbound post.
type Transport interface {
	Run(ctx context.Context, events chan<- chat.Event) error
	Say(text string)
}

// Transcript is the most recent transcription result, retained only until the
// next one supersedes it.
type Transcript struct {
	Text     string
	Language string
	Seq      uint64
}

// Config carries the per-session knobs.
type Config struct {
	Channel          string
	SilenceThreshold time.Duration
	PollInterval     time.Duration // silence poll cadence, default 1s
	RateCap          int
	RateWindow       time.Duration
}

// Session coordinates one live broadcast from start signal to end signal.
// Nothing survives it: all state is in-memory and discarded on Run returning.
type Session struct {
	cfg Config

	source      ChunkSource
	transcriber Transcriber
	generator   Generator
	moderator   Moderator
	transport   Transport

	detector *silence.Detector
	limiter  *ratelimit.Limiter
	sender   *chat.Sender

	mu                 sync.Mutex
	state              State
	lastPromptAt       time.Time
	transcript         Transcript
	transcribeFailures int

	inFlight atomic.Bool
	// work tracks spawned prompt cycles and confirmation sends so Run does
	// not return while one is mid-flight.
	work sync.WaitGroup
	now  func() time.Time
}

// New wires a session. The limiter instance is shared by prompts and command
// confirmations so the platform cap holds in aggregate.
func New(cfg Config, source ChunkSource, transcriber Transcriber, generator Generator, moderator Moderator, transport Transport) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	s := &Session{
		cfg:         cfg,
		source:      source,
		transcriber: transcriber,
		generator:   generator,
		moderator:   moderator,
		transport:   transport,
		state:       StateActive,
		now:         time.Now,
	}
	s.detector = silence.New(cfg.SilenceThreshold, s.now)
	s.limiter = ratelimit.New(cfg.RateCap, cfg.RateWindow)
	s.sender = chat.NewSender(s.limiter, transport.Say)
	return s
}

// Run blocks until ctx is canceled or a fatal stream error ends the session.
// On return all in-flight work for the session has been canceled and its
// in-memory state is dead; nothing is flushed anywhere.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan audio.Chunk, 1)
	events := make(chan chat.Event, 64)
	fatal := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		if err := s.source.Run(ctx, chunks); err != nil && ctx.Err() == nil {
			fatal <- fmt.Errorf("audio source: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.transport.Run(ctx, events); err != nil && ctx.Err() == nil {
			fatal <- fmt.Errorf("chat transport: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		s.transcribeLoop(ctx, chunks)
	}()
	go func() {
		defer wg.Done()
		s.chatLoop(ctx, events)
	}()
	go func() {
		defer wg.Done()
		s.silenceLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-fatal:
		slog.Error("fatal session error; ending session", slog.Any("err", err), slog.String("channel", s.cfg.Channel))
		cancel()
	}
	wg.Wait()
	s.work.Wait()
	return err
}

// transcribeLoop consumes chunks in sequence order. A failed transcription
// drops the chunk: the next one supersedes it within seconds, so retrying the
// same audio is pointless. Failures are counted and non-fatal.
func (s *Session) transcribeLoop(ctx context.Context, chunks <-chan audio.Chunk) {
	for {
		var chunk audio.Chunk
		select {
		case <-ctx.Done():
			return
		case chunk = <-chunks:
		}
		var (
			tr  openai.Transcription
			err error
		)
		telemetry.TimeFunc(telemetry.TranscriptionDuration, func() {
			tr, err = s.transcriber.Transcribe(ctx, chunk.Data)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.mu.Lock()
			s.transcribeFailures++
			s.mu.Unlock()
			if telemetry.TranscriptionsFailed != nil {
				telemetry.TranscriptionsFailed.Inc()
			}
			slog.Warn("transcription failed; dropping chunk",
				slog.Any("err", err),
				slog.Uint64("seq", chunk.Seq),
				slog.String("channel", s.cfg.Channel))
			continue
		}
		if telemetry.TranscriptionsSucceeded != nil {
			telemetry.TranscriptionsSucceeded.Inc()
		}
		if tr.Text == "" {
			continue
		}
		s.setTranscript(Transcript{Text: tr.Text, Language: tr.Language, Seq: chunk.Seq})
	}
}

// chatLoop processes inbound events in arrival order: every event resets the
// silence baseline; privileged commands drive the Active/Paused state.
// Confirmations are sent asynchronously so a held send never delays event
// processing or command responsiveness.
func (s *Session) chatLoop(ctx context.Context, events <-chan chat.Event) {
	for {
		var ev chat.Event
		select {
		case <-ctx.Done():
			return
		case ev = <-events:
		}
		s.detector.Touch()
		cmd := chat.ParseCommand(ev)
		if cmd == chat.CommandNone {
			continue
		}
		switch cmd {
		case chat.CommandPause:
			s.setState(StatePaused)
		case chat.CommandResume:
			s.setState(StateActive)
		}
		if telemetry.CommandsHandled != nil {
			telemetry.CommandsHandled.Inc()
		}
		slog.Info("command applied",
			slog.String("channel", s.cfg.Channel),
			slog.String("sender", ev.Sender),
			slog.String("state", s.State().String()))
		s.work.Add(1)
		go func(reply string) {
			defer s.work.Done()
			if err := s.sender.Send(ctx, reply); err != nil && ctx.Err() == nil {
				slog.Warn("command confirmation not sent", slog.Any("err", err), slog.String("channel", s.cfg.Channel))
			}
		}(cmd.Confirmation())
	}
}

// silenceLoop polls the detector. A qualifying silence event while Paused is
// ignored entirely; while Active it starts at most one prompt cycle.
func (s *Session) silenceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.State() != StateActive {
			continue
		}
		if !s.detector.Check() {
			continue
		}
		if telemetry.SilenceEvents != nil {
			telemetry.SilenceEvents.Inc()
		}
		slog.Info("qualifying silence detected",
			slog.String("channel", s.cfg.Channel),
			slog.Duration("threshold", s.cfg.SilenceThreshold))
		s.work.Add(1)
		go func() {
			defer s.work.Done()
			s.runPromptCycle(ctx)
		}()
	}
}

// runPromptCycle executes one pipeline pass: compose from the latest
// transcript, generate, moderate, deliver under the rate limiter. At most one
// cycle is in flight per session; chat activity observed at any point before
// posting discards the cycle's output rather than posting into a no-longer-
// silent channel.
func (s *Session) runPromptCycle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	ctx, span := telemetry.StartSpan(ctx, "session", "prompt_cycle",
		attribute.String("channel", s.cfg.Channel))
	defer span.End()

	tr, ok := s.latestTranscript()
	if !ok {
		// Nothing transcribed yet this session; skip the cycle silently.
		s.abandonCycle("no transcript available", nil)
		return
	}
	gen := s.detector.Generation()

	var (
		text string
		err  error
	)
	telemetry.TimeFunc(telemetry.GenerationDuration, func() {
		text, err = s.generator.GeneratePrompt(ctx, tr.Text, tr.Language)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.abandonCycle("generation failed", err)
		return
	}
	if text == "" {
		s.abandonCycle("empty candidate", nil)
		return
	}
	if telemetry.PromptsGenerated != nil {
		telemetry.PromptsGenerated.Inc()
	}

	allowed, err := s.moderator.CheckMessage(ctx, text)
	if err != nil {
		telemetry.RecordError(span, err)
		s.abandonCycle("moderation check failed", err)
		return
	}
	if !allowed {
		// Expected outcome, not an error: discard silently, no alternate wording.
		if telemetry.PromptsDenied != nil {
			telemetry.PromptsDenied.Inc()
		}
		slog.Info("prompt denied by moderation gate", slog.String("channel", s.cfg.Channel))
		return
	}

	if s.detector.Generation() != gen {
		s.abandonCycle("superseded by chat activity", nil)
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	// Re-check after the hold: chat may have resumed while the send was
	// rate-delayed, and the session may have ended between admission and
	// delivery.
	if s.detector.Generation() != gen {
		s.abandonCycle("superseded by chat activity", nil)
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.transport.Say(text)
	s.markPromptSent()
	if telemetry.PromptsSent != nil {
		telemetry.PromptsSent.Inc()
	}
	slog.Info("sent prompt", slog.String("channel", s.cfg.Channel), slog.String("text", text))
}

func (s *Session) abandonCycle(reason string, err error) {
	if telemetry.PromptCyclesAbandoned != nil {
		telemetry.PromptCyclesAbandoned.Inc()
	}
	if err != nil {
		slog.Warn("prompt cycle abandoned", slog.String("reason", reason), slog.Any("err", err), slog.String("channel", s.cfg.Channel))
		return
	}
	slog.Debug("prompt cycle abandoned", slog.String("reason", reason), slog.String("channel", s.cfg.Channel))
}

// State returns the current command-driven state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// latestTranscript returns the most recent transcription, if any arrived yet.
func (s *Session) latestTranscript() (Transcript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript, s.transcript.Seq > 0
}

// setTranscript keeps the last writer by sequence number, not completion
// time: a result for an older chunk arriving late must not overwrite a newer
// one.
func (s *Session) setTranscript(t Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Seq < s.transcript.Seq {
		return
	}
	s.transcript = t
}

func (s *Session) markPromptSent() {
	s.mu.Lock()
	s.lastPromptAt = s.now()
	s.mu.Unlock()
	s.detector.MarkPromptSent()
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	Channel            string     `json:"channel"`
	State              string     `json:"state"`
	SilentForSeconds   float64    `json:"silent_for_seconds"`
	LastActivity       time.Time  `json:"last_activity"`
	LastPromptAt       *time.Time `json:"last_prompt_at,omitempty"`
	TranscriptSeq      uint64     `json:"transcript_seq"`
	TranscribeFailures int        `json:"transcribe_failures"`
	SendsInWindow      int        `json:"sends_in_window"`
}

// Status snapshots the session for observability surfaces.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		Channel:            s.cfg.Channel,
		State:              s.state.String(),
		TranscriptSeq:      s.transcript.Seq,
		TranscribeFailures: s.transcribeFailures,
	}
	if !s.lastPromptAt.IsZero() {
		t := s.lastPromptAt
		st.LastPromptAt = &t
	}
	s.mu.Unlock()
	st.SilentForSeconds = s.detector.SilentFor().Seconds()
	st.LastActivity = s.detector.LastActivity()
	st.SendsInWindow = s.limiter.InWindow()
	return st
}
