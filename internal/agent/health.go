package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthServer exposes the liveness probe and, when metrics are
// enabled, the Prometheus scrape endpoint. Read-only: it reports loop
// state, it never controls the loop.
type HealthServer struct {
	agent   *Agent
	log     *zap.Logger
	server  *http.Server
	metrics http.Handler
}

func NewHealthServer(addr string, a *Agent, metricsHandler http.Handler, log *zap.Logger) *HealthServer {
	h := &HealthServer{agent: a, log: log, metrics: metricsHandler}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/breaker/reset", h.handleBreakerReset)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Start serves until ctx is cancelled. Listen failure is returned so
// the caller can treat it as fatal init.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Warn("health server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (h *HealthServer) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.agent.ResetBreaker(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.agent.Status()); err != nil {
		h.log.Warn("healthz encode failed", zap.Error(err))
	}
}
