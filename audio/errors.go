package audio

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass represents whether a stream fetch error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the capture should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the capture should not be retried (permanent errors).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyFetchError classifies live-stream fetch errors.
//
// Fatal errors (non-retryable):
// - Cancellation (session ended)
// - Stream gone (404, playlist removed, channel offline for good)
// - Authentication/authorization errors (401/403, subscriber-only)
// - Invalid input (malformed playlist URL)
//
// Retryable errors (transient):
// - Network errors (connection reset, timeout, DNS failures)
// - Server errors (500, 502, 503, 504)
// - Short reads and mid-stream EOF from segment gaps
//
// Unmatched errors are treated as retryable: giving up too early ends the
// whole session, while a spurious retry only costs one backoff interval.
func ClassifyFetchError(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassFatal
	}

	lower := strings.ToLower(err.Error())

	// Server errors before the generic patterns below.
	for _, p := range []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}

	for _, p := range []string{"401", "403", "unauthorized", "access denied", "subscriber-only", "login required"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}

	for _, p := range []string{"404", "not found", "no longer available", "does not exist", "invalid url", "malformed url", "unsupported url", "unable to open"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}

	return ErrorClassRetryable
}

// IsFatalFetchError reports whether the capture loop should stop retrying.
func IsFatalFetchError(err error) bool {
	return ClassifyFetchError(err) == ErrorClassFatal
}
