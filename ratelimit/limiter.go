// Package ratelimit enforces the platform's outbound-message quota with a sliding
// time window of send timestamps. Every send for a session, prompt or command
// confirmation, must pass through the same Limiter instance so the cap holds in
// aggregate. Messages are never dropped for rate reasons alone; Wait holds the
// caller until the oldest timestamp ages out of the window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/clipgremlin/telemetry"
)

// Limiter admits at most cap sends within any trailing window.
type Limiter struct {
	mu     sync.Mutex
	cap    int
	window time.Duration
	sends  []time.Time

	// now is swappable for deterministic tests.
	now func() time.Time
}

// New returns a Limiter admitting at most cap sends per trailing window.
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{cap: capacity, window: window, now: time.Now}
}

// SetClock overrides the limiter's time source (tests only).
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// prune drops timestamps that have aged out of the trailing window.
// Callers must hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.sends) && !l.sends[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sends = append(l.sends[:0], l.sends[i:]...)
	}
}

// Allow admits a send immediately if the window has capacity, recording its
// timestamp. It never blocks.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.sends) >= l.cap {
		return false
	}
	l.sends = append(l.sends, now)
	return true
}

// NextAvailable returns the earliest instant a send could be admitted. If the
// window has capacity it returns the current time.
func (l *Limiter) NextAvailable() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.sends) < l.cap {
		return now
	}
	return l.sends[0].Add(l.window)
}

// InWindow reports the number of sends currently inside the trailing window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.sends)
}

// Wait blocks until the send is admitted or ctx is done. On admission the send
// timestamp is recorded; the caller should transmit promptly afterwards.
func (l *Limiter) Wait(ctx context.Context) error {
	delayed := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.sends) < l.cap {
			l.sends = append(l.sends, now)
			l.mu.Unlock()
			return nil
		}
		wake := l.sends[0].Add(l.window)
		l.mu.Unlock()

		if !delayed {
			delayed = true
			if telemetry.SendsDelayed != nil {
				telemetry.SendsDelayed.Inc()
			}
		}
		// Sleep length comes from the limiter's clock, not the wall clock,
		// so an injected clock governs Wait the same as Allow.
		d := wake.Sub(now)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
