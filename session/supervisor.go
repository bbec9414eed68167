package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/clipgremlin/telemetry"
)

// Factory builds a ready-to-run Session for one channel. It is called with the
// lowercased channel login.
type Factory func(ctx context.Context, channel string) (*Session, error)

type running struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Supervisor keeps at most one running session per channel and maps lifecycle
// signals (stream online/offline, shutdown) onto session start and stop.
type Supervisor struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*running
}

// NewSupervisor returns a supervisor that builds sessions via factory.
func NewSupervisor(factory Factory) *Supervisor {
	return &Supervisor{
		factory:  factory,
		sessions: make(map[string]*running),
	}
}

// Start launches a session for channel unless one is already running. The
// session runs until Stop, parent context cancellation, or a fatal stream
// error; on exit it removes itself from the supervisor.
func (sv *Supervisor) Start(ctx context.Context, channel string) error {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return fmt.Errorf("start session: empty channel")
	}

	sv.mu.Lock()
	if _, ok := sv.sessions[channel]; ok {
		sv.mu.Unlock()
		slog.Debug("session already running", slog.String("channel", channel))
		return nil
	}
	sv.mu.Unlock()

	sess, err := sv.factory(ctx, channel)
	if err != nil {
		return fmt.Errorf("build session for %s: %w", channel, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	r := &running{session: sess, cancel: cancel, done: make(chan struct{})}

	sv.mu.Lock()
	if _, ok := sv.sessions[channel]; ok {
		// Raced with a concurrent Start for the same channel.
		sv.mu.Unlock()
		cancel()
		return nil
	}
	sv.sessions[channel] = r
	telemetry.SetSessionsActive(len(sv.sessions))
	sv.mu.Unlock()

	slog.Info("session started", slog.String("channel", channel))
	go func() {
		defer close(r.done)
		err := sess.Run(sctx)
		cancel()
		sv.mu.Lock()
		if sv.sessions[channel] == r {
			delete(sv.sessions, channel)
		}
		telemetry.SetSessionsActive(len(sv.sessions))
		sv.mu.Unlock()
		if err != nil {
			slog.Error("session ended with error", slog.String("channel", channel), slog.Any("err", err))
			return
		}
		slog.Info("session ended", slog.String("channel", channel))
	}()
	return nil
}

// Stop cancels the channel's session and waits up to grace for it to wind
// down. It reports whether a session was running.
func (sv *Supervisor) Stop(channel string, grace time.Duration) bool {
	channel = strings.ToLower(strings.TrimSpace(channel))
	sv.mu.Lock()
	r, ok := sv.sessions[channel]
	sv.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(grace):
		slog.Warn("session did not stop within grace period", slog.String("channel", channel))
	}
	return true
}

// StopAll cancels every running session and waits up to grace in aggregate.
func (sv *Supervisor) StopAll(grace time.Duration) {
	sv.mu.Lock()
	rs := make([]*running, 0, len(sv.sessions))
	for _, r := range sv.sessions {
		r.cancel()
		rs = append(rs, r)
	}
	sv.mu.Unlock()

	deadline := time.After(grace)
	for _, r := range rs {
		select {
		case <-r.done:
		case <-deadline:
			slog.Warn("shutdown grace period elapsed with sessions still winding down")
			return
		}
	}
}

// Count returns the number of running sessions.
func (sv *Supervisor) Count() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// Statuses snapshots every running session for the status endpoint.
func (sv *Supervisor) Statuses() []Status {
	sv.mu.Lock()
	rs := make([]*running, 0, len(sv.sessions))
	for _, r := range sv.sessions {
		rs = append(rs, r)
	}
	sv.mu.Unlock()

	out := make([]Status, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.session.Status())
	}
	return out
}
