// Package audio captures a live HLS feed through ffmpeg and slices it into
// bounded, time-ordered chunks sized for the transcription service.
//
// Segmentation is by elapsed time, not content: every chunk carries exactly
// ChunkDuration of mono 16 kHz PCM, so the size bound holds by construction
// and a violation is a configuration error, not a runtime branch. Transient
// fetch failures are retried with bounded exponential backoff; sustained or
// fatal failures end the capture, which the orchestrator treats as the end of
// the session.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/clipgremlin/telemetry"
)

// ErrChunkTooLarge reports a chunk duration whose encoded size would exceed
// the transcription request ceiling. It is returned before any capture starts.
var ErrChunkTooLarge = errors.New("audio chunk exceeds transcription size ceiling")

// errStreamEnded marks ffmpeg exiting cleanly: the upstream feed stopped.
var errStreamEnded = errors.New("stream ended")

// RetryPolicy is the explicit backoff schedule for transient fetch failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy bounds reconnect attempts to 3 with exponential spacing.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 10 * time.Second}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}

// Source produces an ordered, unbounded sequence of chunks from one stream
// address until the context is canceled or the feed fails for good.
type Source struct {
	StreamURL     string
	FFmpegPath    string
	ChunkDuration time.Duration
	MaxChunkBytes int
	Retry         RetryPolicy
}

// Run captures the stream and sends chunks on out until ctx is canceled or the
// feed fails fatally. It stops producing within one chunk duration of
// cancellation (ffmpeg is killed with the context and the pending send is
// select-guarded). The out channel is not closed; the caller owns it.
func (s *Source) Run(ctx context.Context, out chan<- Chunk) error {
	chunkBytes := wavHeaderSize + pcmBytesFor(s.ChunkDuration)
	if s.MaxChunkBytes > 0 && chunkBytes > s.MaxChunkBytes {
		return fmt.Errorf("%w: %ds chunks encode to %d bytes, ceiling is %d; lower AUDIO_CHUNK_DURATION",
			ErrChunkTooLarge, int(s.ChunkDuration.Seconds()), chunkBytes, s.MaxChunkBytes)
	}

	var seq uint64
	attempts := 0
	bo := s.Retry.backOff()
	for {
		produced, err := s.captureOnce(ctx, out, &seq)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsFatalFetchError(err) {
			return fmt.Errorf("stream fetch: %w", err)
		}
		if produced {
			// The feed was healthy for a while; start the attempt budget over.
			attempts = 0
			bo.Reset()
		}
		attempts++
		if attempts >= s.Retry.MaxAttempts {
			return fmt.Errorf("stream fetch failed after %d attempts: %w", attempts, err)
		}
		wait := bo.NextBackOff()
		if telemetry.StreamFetchRetries != nil {
			telemetry.StreamFetchRetries.Inc()
		}
		slog.Warn("stream fetch failed; retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("component", "audio_source"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// captureOnce runs one ffmpeg process to completion, reporting whether any
// chunk was produced. A clean ffmpeg exit returns errStreamEnded (retryable:
// HLS playlists stall and resume around ad breaks).
func (s *Source) captureOnce(ctx context.Context, out chan<- Chunk, seq *uint64) (bool, error) {
	ffmpegPath := s.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	//nolint:gosec // G204: stream URL comes from Helix, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", s.StreamURL,
		"-f", "s16le",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		"-loglevel", "error",
		"-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, err
	}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start ffmpeg: %w", err)
	}

	produced, readErr := s.slice(ctx, stdout, out, seq)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return produced, ctx.Err()
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return produced, readErr
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return produced, fmt.Errorf("ffmpeg: %w: %s", waitErr, msg)
		}
		return produced, fmt.Errorf("ffmpeg: %w", waitErr)
	}
	return produced, errStreamEnded
}

// slice reads full PCM frames from r and emits them as WAV chunks. A trailing
// partial frame is dropped; the next capture starts a fresh frame.
func (s *Source) slice(ctx context.Context, r io.Reader, out chan<- Chunk, seq *uint64) (bool, error) {
	pcm := make([]byte, pcmBytesFor(s.ChunkDuration))
	produced := false
	for {
		if _, err := io.ReadFull(r, pcm); err != nil {
			return produced, err
		}
		*seq++
		chunk := Chunk{Seq: *seq, Data: wrapWAV(pcm), Duration: s.ChunkDuration}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return produced, ctx.Err()
		}
		produced = true
		if telemetry.ChunksProduced != nil {
			telemetry.ChunksProduced.Inc()
		}
	}
}
