package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/clipgremlin/telemetry"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	messageTypeNotification = "notification"
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"

	// Twitch signs notifications no older than 10 minutes; anything staler is
	// a replay.
	maxMessageAge = 10 * time.Minute

	maxBodyBytes = 1 << 20
)

type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
	} `json:"event"`
}

// HandleEventSub receives Twitch EventSub webhook callbacks. stream.online
// starts a channel session, stream.offline stops it; everything else is
// acknowledged and logged.
func (h *Handlers) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(r, body) {
		log.Warn("eventsub signature rejected", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		// Echo the challenge back as plain text to confirm the callback URL.
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(env.Challenge))

	case messageTypeNotification:
		h.handleNotification(r, env)
		w.WriteHeader(http.StatusNoContent)

	case messageTypeRevocation:
		log.Warn("eventsub subscription revoked",
			slog.String("type", env.Subscription.Type),
			slog.String("status", env.Subscription.Status))
		w.WriteHeader(http.StatusNoContent)

	default:
		log.Warn("unknown eventsub message type", slog.String("type", r.Header.Get(headerMessageType)))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) handleNotification(r *http.Request, env eventSubEnvelope) {
	log := telemetry.LoggerWithCorr(r.Context())
	channel := env.Event.BroadcasterUserLogin
	switch env.Subscription.Type {
	case "stream.online":
		log.Info("stream online", slog.String("channel", channel))
		if err := h.sv.Start(h.baseCtx, channel); err != nil {
			log.Error("start session", slog.Any("err", err), slog.String("channel", channel))
		}
	case "stream.offline":
		log.Info("stream offline", slog.String("channel", channel))
		h.sv.Stop(channel, 5*time.Second)
	default:
		log.Debug("ignoring eventsub notification", slog.String("type", env.Subscription.Type))
	}
}

// verifySignature checks the HMAC-SHA256 over message id + timestamp + body
// and rejects stale timestamps.
func (h *Handlers) verifySignature(r *http.Request, body []byte) bool {
	secret := h.cfg.TwitchWebhookSecret
	if secret == "" {
		return false
	}

	ts := r.Header.Get(headerMessageTimestamp)
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil || time.Since(at) > maxMessageAge {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(r.Header.Get(headerMessageID)))
	mac.Write([]byte(ts))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(r.Header.Get(headerMessageSignature)))
}
