// Package openai contains minimal clients for the OpenAI transcription and
// chat-completion endpoints, mirroring the hand-rolled Helix helpers in
// twitchapi: plain net/http, explicit timeouts, no SDK.
//
// Retry policy is deliberately asymmetric. A failed transcription is not
// retried: the next audio chunk supersedes it within seconds, so the chunk is
// dropped and counted. Prompt generation is retried a bounded number of times
// because a qualifying silence event is comparatively rare.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	transcribeModel = "whisper-1"
	generateModel   = "gpt-3.5-turbo"
	maxPromptLen    = 100
	maxSnippetLen   = 500
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Transcription is the text and detected language for one audio chunk.
type Transcription struct {
	Text     string
	Language string
}

// Client calls the OpenAI API. Zero-value fields get sensible defaults.
type Client struct {
	APIKey          string
	BaseURL         string
	HTTPClient      *http.Client
	RequestTimeout  time.Duration // per-attempt bound, default 15s
	GenerateRetries int           // extra generation attempts, default 2
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *Client) timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return 15 * time.Second
}

// Transcribe sends one WAV chunk to the transcription endpoint. Single
// attempt: on failure the caller drops the chunk.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (Transcription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcription{}, err
	}
	if _, err := fw.Write(wav); err != nil {
		return Transcription{}, err
	}
	_ = mw.WriteField("model", transcribeModel)
	// verbose_json is the only response format that reports the detected language.
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return Transcription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/audio/transcriptions", &form)
	if err != nil {
		return Transcription{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http().Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Transcription{}, &StatusError{Op: "transcribe", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: decode response: %w", err)
	}
	return Transcription{
		Text:     strings.TrimSpace(out.Text),
		Language: normalizeLanguage(out.Language),
	}, nil
}

// GeneratePrompt asks the chat model for one mischievous, PG-13 one-liner
// seeded by the recent transcript. Timeouts and 5xx/429 responses are retried
// with exponential backoff; other client errors abort immediately.
func (c *Client) GeneratePrompt(ctx context.Context, transcript, language string) (string, error) {
	retries := c.GenerateRetries
	if retries == 0 {
		retries = 2
	}
	return backoff.Retry(ctx, func() (string, error) {
		text, err := c.generateOnce(ctx, transcript, language)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return text, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(retries+1)),
	)
}

func (c *Client) generateOnce(ctx context.Context, transcript, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if r := []rune(transcript); len(r) > maxSnippetLen {
		transcript = string(r[:maxSnippetLen])
	}
	payload := map[string]any{
		"model": generateModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPromptFor(language)},
			{"role": "user", "content": "Based on this transcript snippet, generate a mischievous but friendly one-line question or comment (max 100 chars):\n\n" + transcript},
		},
		"max_tokens":  150,
		"temperature": 0.8,
		"top_p":       0.9,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &StatusError{Op: "generate", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generate: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("generate: empty choices")
	}
	return tidyPrompt(out.Choices[0].Message.Content), nil
}

// tidyPrompt strips quoting and enforces the one-liner length cap. The cap
// counts runes, not bytes: non-English candidates must not be cut short or
// split mid-character.
func tidyPrompt(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(`"`, "", "'", "").Replace(s)
	if r := []rune(s); len(r) > maxPromptLen {
		s = string(r[:maxPromptLen-3]) + "..."
	}
	return s
}
