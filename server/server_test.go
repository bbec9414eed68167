package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clipgremlin/audio"
	"github.com/onnwee/clipgremlin/chat"
	"github.com/onnwee/clipgremlin/config"
	"github.com/onnwee/clipgremlin/openai"
	"github.com/onnwee/clipgremlin/session"
)

type stubSource struct{}

func (stubSource) Run(ctx context.Context, _ chan<- audio.Chunk) error {
	<-ctx.Done()
	return ctx.Err()
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, _ []byte) (openai.Transcription, error) {
	return openai.Transcription{}, nil
}

type stubGenerator struct{}

func (stubGenerator) GeneratePrompt(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

type stubModerator struct{}

func (stubModerator) CheckMessage(_ context.Context, _ string) (bool, error) { return true, nil }

type stubTransport struct{}

func (stubTransport) Run(ctx context.Context, _ chan<- chat.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stubTransport) Say(string) {}

func testSupervisor() *session.Supervisor {
	return session.NewSupervisor(func(_ context.Context, channel string) (*session.Session, error) {
		cfg := session.Config{
			Channel:          channel,
			SilenceThreshold: time.Hour,
			RateCap:          20,
			RateWindow:       30 * time.Second,
		}
		return session.New(cfg, stubSource{}, stubTranscriber{}, stubGenerator{}, stubModerator{}, stubTransport{}), nil
	})
}

const testSecret = "webhook-test-secret"

func testMux(t *testing.T) (http.Handler, *session.Supervisor) {
	t.Helper()
	cfg := &config.Config{TwitchWebhookSecret: testSecret}
	sv := testSupervisor()
	t.Cleanup(func() { sv.StopAll(2 * time.Second) })
	return NewMux(context.Background(), cfg, sv), sv
}

func signedRequest(t *testing.T, msgType, body string) *http.Request {
	t.Helper()
	id := "msg-id-1"
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(id))
	mac.Write([]byte(ts))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/webhook/eventsub", strings.NewReader(body))
	req.Header.Set(headerMessageID, id)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(headerMessageType, msgType)
	return req
}

func TestEventSubChallengeEcho(t *testing.T) {
	mux, _ := testMux(t)
	body := `{"challenge":"pong-123","subscription":{"type":"stream.online"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedRequest(t, messageTypeVerification, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "pong-123" {
		t.Fatalf("expected raw challenge echoed, got %q", got)
	}
}

func TestEventSubRejectsBadSignature(t *testing.T) {
	mux, _ := testMux(t)
	req := signedRequest(t, messageTypeNotification, `{}`)
	req.Header.Set(headerMessageSignature, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestEventSubRejectsStaleTimestamp(t *testing.T) {
	mux, _ := testMux(t)
	body := `{}`
	id := "msg-id-2"
	ts := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(id))
	mac.Write([]byte(ts))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/webhook/eventsub", strings.NewReader(body))
	req.Header.Set(headerMessageID, id)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(headerMessageType, messageTypeNotification)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestEventSubStreamLifecycle(t *testing.T) {
	mux, sv := testMux(t)

	online := `{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_login":"somechannel"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedRequest(t, messageTypeNotification, online))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := sv.Count(); got != 1 {
		t.Fatalf("expected 1 session after stream.online, got %d", got)
	}

	offline := `{"subscription":{"type":"stream.offline"},"event":{"broadcaster_user_login":"somechannel"}}`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, signedRequest(t, messageTypeNotification, offline))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sv.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sv.Count(); got != 0 {
		t.Fatalf("expected 0 sessions after stream.offline, got %d", got)
	}
}

// Sessions started from a webhook must be parented on the application
// context, not the request context, which the server cancels as soon as the
// handler returns. Exercised through a real server so request-context
// cancellation semantics apply.
func TestEventSubSessionSurvivesRequest(t *testing.T) {
	mux, sv := testMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body := `{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_login":"somechannel"}}`
	id := "msg-id-3"
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(id))
	mac.Write([]byte(ts))
	mac.Write([]byte(body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook/eventsub", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(headerMessageID, id)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(headerMessageType, messageTypeNotification)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// The session must still be running well after the response completed.
	time.Sleep(300 * time.Millisecond)
	if got := sv.Count(); got != 1 {
		t.Fatalf("expected 1 session to survive the request, got %d", got)
	}
}

func TestEventSubRevocationAcknowledged(t *testing.T) {
	mux, _ := testMux(t)
	body := `{"subscription":{"type":"stream.online","status":"authorization_revoked"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedRequest(t, messageTypeRevocation, body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected correlation id header")
	}
}

func TestReadyzReportsMissingCredentials(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without credentials, got %d", rec.Code)
	}
}

func TestStatusListsSessions(t *testing.T) {
	mux, sv := testMux(t)
	if err := sv.Start(context.Background(), "livechan"); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		UptimeSeconds float64          `json:"uptime_seconds"`
		Sessions      []session.Status `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Channel != "livechan" {
		t.Fatalf("unexpected sessions: %+v", resp.Sessions)
	}
	if resp.Sessions[0].State != "active" {
		t.Fatalf("expected active state, got %s", resp.Sessions[0].State)
	}
}
