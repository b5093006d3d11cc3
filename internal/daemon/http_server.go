package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dough654/Telescope.Browser/internal/recovery"
	"github.com/dough654/Telescope.Browser/internal/version"
)

// HTTPServer is the local admin surface: health, status, metrics, and
// a manual recovery trigger. It binds loopback only.
type HTTPServer struct {
	daemon *Daemon
	server *http.Server
	port   int
}

// NewHTTPServer builds the admin server; call Start to begin serving.
func NewHTTPServer(d *Daemon, port int) *HTTPServer {
	s := &HTTPServer{daemon: d, port: port}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /recovery/run", s.handleRunRecovery)
	mux.HandleFunc("POST /health/check", s.handleForceCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background.
func (s *HTTPServer) Start() error {
	go func() {
		slog.Info("Admin server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.daemon.Monitor().LastReport()
	mode := s.daemon.Monitor().Mode()

	code := http.StatusOK
	if mode == recovery.ModeSafeMode || (report != nil && report.Status == recovery.StatusCritical) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"mode":   mode,
		"report": report,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoints, err := s.daemon.Broker().Endpoints(ctx)
	if err != nil {
		slog.Warn("Endpoint listing failed in status handler", "error", err)
	}

	history := s.daemon.State().TabHistory()
	partitions := s.daemon.State().HarpoonTabs()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            version.Version,
		"uptime":             time.Since(s.daemon.startedAt).Round(time.Second).String(),
		"mode":               s.daemon.Monitor().Mode(),
		"queue_size":         s.daemon.Broker().QueueSize(),
		"open_transactions":  s.daemon.Broker().OpenTransactions(),
		"endpoints":          len(endpoints),
		"history_entries":    len(history),
		"harpoon_partitions": len(partitions),
		"system_health":      s.daemon.State().SystemHealth(),
	})
}

func (s *HTTPServer) handleRunRecovery(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := s.daemon.Monitor().RecoverFromCorruption(ctx); err != nil {
			slog.Error("Manually triggered recovery failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recovery started"})
}

func (s *HTTPServer) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	report := s.daemon.Monitor().ForceHealthCheck(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode admin response", "error", err)
	}
}
