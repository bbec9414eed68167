// Package server exposes the HTTP surface: health and readiness probes, a
// JSON status endpoint, Prometheus metrics, and the EventSub webhook that
// drives session lifecycle. Correlation IDs are injected into request
// contexts for consistent logging.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/clipgremlin/config"
	"github.com/onnwee/clipgremlin/session"
	"github.com/onnwee/clipgremlin/telemetry"
)

// Handlers carries the dependencies shared by the HTTP handlers.
type Handlers struct {
	// baseCtx is the application lifetime. Sessions started from a webhook
	// must be parented here, never on the request context: net/http cancels
	// the request context as soon as the handler returns.
	baseCtx   context.Context
	cfg       *config.Config
	sv        *session.Supervisor
	startedAt time.Time
}

// NewHandlers builds the handler set. ctx bounds the lifetime of sessions
// started through the webhook.
func NewHandlers(ctx context.Context, cfg *config.Config, sv *session.Supervisor) *Handlers {
	return &Handlers{baseCtx: ctx, cfg: cfg, sv: sv, startedAt: time.Now()}
}

// NewMux returns the HTTP handler with all routes, wrapped with the
// correlation-id middleware.
func NewMux(ctx context.Context, cfg *config.Config, sv *session.Supervisor) http.Handler {
	h := NewHandlers(ctx, cfg, sv)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/webhook/eventsub", h.HandleEventSub)

	return withCorrelation(mux)
}

// withCorrelation injects a correlation id into the request context, reusing
// the caller's header when present.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleHealthz reports liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the process can accept lifecycle signals
// only once the session credentials are configured.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	if err := h.cfg.ValidateSessionReady(); err != nil {
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type statusResponse struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	Sessions      []session.Status `json:"sessions"`
}

// HandleStatus returns a JSON snapshot of every running session.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Sessions:      h.sv.Statuses(),
	}
	if resp.Sessions == nil {
		resp.Sessions = []session.Status{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("encode status response", slog.Any("err", err))
	}
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
