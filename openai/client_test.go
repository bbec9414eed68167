package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hello chat  ", "language": "english"})
	}))
	defer srv.Close()

	c := &Client{APIKey: "sk-test", BaseURL: srv.URL}
	tr, err := c.Transcribe(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello chat" {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.Language != "en" {
		t.Errorf("language = %q, want en", tr.Language)
	}
}

func TestTranscribeDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{APIKey: "sk-test", BaseURL: srv.URL}
	if _, err := c.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("transcription attempted %d times, want exactly 1 (chunks are dropped, not retried)", n)
	}
}

func TestGeneratePromptRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		var req struct {
			Messages []struct {
				Role, Content string
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `"So... who's winning, you or the game?"`}}},
		})
	}))
	defer srv.Close()

	c := &Client{APIKey: "sk-test", BaseURL: srv.URL}
	got, err := c.GeneratePrompt(context.Background(), "talking about the boss fight", "en")
	if err != nil {
		t.Fatalf("GeneratePrompt: %v", err)
	}
	if got != "So... whos winning, you or the game?" {
		t.Errorf("prompt = %q", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("generation attempted %d times, want 2", n)
	}
}

func TestGeneratePromptStopsAfterBoundedAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{APIKey: "sk-test", BaseURL: srv.URL, RequestTimeout: time.Second}
	if _, err := c.GeneratePrompt(context.Background(), "snippet", "en"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("generation attempted %d times, want 3 (1 + 2 retries)", n)
	}
}

func TestGeneratePromptDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{APIKey: "sk-bad", BaseURL: srv.URL}
	if _, err := c.GeneratePrompt(context.Background(), "snippet", "en"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("generation attempted %d times, want 1 for a 401", n)
	}
}

func TestTidyPrompt(t *testing.T) {
	long := strings.Repeat("a", 150)
	if got := tidyPrompt(long); len(got) != maxPromptLen {
		t.Errorf("len = %d, want %d", len(got), maxPromptLen)
	}
	if got := tidyPrompt(` "hi there" `); got != "hi there" {
		t.Errorf("got %q", got)
	}
}

func TestTidyPromptCountsRunes(t *testing.T) {
	// 60 two-byte runes: within the cap, must pass through untouched.
	short := strings.Repeat("ü", 60)
	if got := tidyPrompt(short); got != short {
		t.Errorf("in-cap multibyte prompt was altered: %q", got)
	}

	long := strings.Repeat("ü", 150)
	got := tidyPrompt(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != maxPromptLen {
		t.Errorf("rune count = %d, want %d", n, maxPromptLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
}

func TestSystemPromptFallsBackToEnglish(t *testing.T) {
	if systemPromptFor("xx") != systemPrompts["en"] {
		t.Error("unknown language should fall back to the English system prompt")
	}
	if systemPromptFor("de") == systemPrompts["en"] {
		t.Error("expected the German system prompt for de")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"english": "en", "Spanish": "es", "fr": "fr", "": "en", "klingon": "en",
	}
	for in, want := range cases {
		if got := normalizeLanguage(in); got != want {
			t.Errorf("normalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
