// Package silence tracks chat recency and fires a single edge-triggered event
// once the channel has been quiet for a full threshold. The event will not
// re-fire until either new chat activity or a delivered prompt resets the
// baseline, so a long quiet stretch yields exactly one prompt cycle.
package silence

import (
	"sync"
	"time"
)

// Detector holds the silence baseline for one channel session.
//
// The baseline is the later of the last chat activity and the last delivered
// prompt. Check reports true exactly once per continuous quiet interval of at
// least the threshold.
type Detector struct {
	mu        sync.Mutex
	threshold time.Duration
	now       func() time.Time

	lastActivity time.Time
	lastPrompt   time.Time // zero until the first delivered prompt
	fired        bool

	// generation increments on every chat activity; in-flight prompt cycles
	// snapshot it and discard their output if it moved.
	generation uint64
}

// New returns a Detector with the baseline starting at the current time, so a
// freshly started session must observe a full quiet threshold before firing.
func New(threshold time.Duration, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{
		threshold:    threshold,
		now:          now,
		lastActivity: now(),
	}
}

// Touch records chat activity, resets the silence baseline and invalidates any
// in-flight prompt cycle.
func (d *Detector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = d.now()
	d.fired = false
	d.generation++
}

// MarkPromptSent resets the baseline after a delivered prompt so the next
// window starts fresh.
func (d *Detector) MarkPromptSent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPrompt = d.now()
	d.fired = false
}

// Check reports whether a qualifying silence event fires now. It returns true
// at most once per quiet interval; subsequent polls return false until Touch
// or MarkPromptSent reset the baseline.
func (d *Detector) Check() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired {
		return false
	}
	if d.now().Sub(d.baselineLocked()) < d.threshold {
		return false
	}
	d.fired = true
	return true
}

// Generation returns the current activity generation. A prompt cycle snapshots
// it before generating and must discard its output if the value changed.
func (d *Detector) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// LastActivity returns the timestamp of the most recent chat event (or session
// start if none arrived yet).
func (d *Detector) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

// SilentFor returns the elapsed quiet time since the current baseline.
func (d *Detector) SilentFor() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Sub(d.baselineLocked())
}

func (d *Detector) baselineLocked() time.Time {
	if d.lastPrompt.After(d.lastActivity) {
		return d.lastPrompt
	}
	return d.lastActivity
}
