// Package server is the HTTP surface of the relay: the platform webhook
// endpoints plus the outbound proxy routes internal callers use to reach the
// Graph API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"warelay/internal/config"
	"warelay/internal/domain"
	"warelay/internal/metrics"
	"warelay/internal/whatsapp"
)

// Config wires the server's collaborators.
type Config struct {
	Cfg       *config.Config
	WhatsApp  *whatsapp.Client
	Forwarder domain.Forwarder
	Tracker   domain.DuplicateTracker
	Logger    *slog.Logger
}

type Server struct {
	cfg     *config.Config
	wa      *whatsapp.Client
	fwd     domain.Forwarder
	tracker domain.DuplicateTracker
	diag    *Diagnostics
	logger  *slog.Logger
	server  *http.Server
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg.Cfg,
		wa:      cfg.WhatsApp,
		fwd:     cfg.Forwarder,
		tracker: cfg.Tracker,
		logger:  cfg.Logger,
	}
	if cfg.Cfg.Diagnostics.Enabled {
		s.diag = NewDiagnostics(cfg.Logger)
	}
	return s
}

// Handler builds the route table. Exposed separately from Run so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /webhook", s.handleVerification)
	mux.HandleFunc("POST /webhook", s.handleEvent)

	mux.HandleFunc("POST /send-message", s.handleSendMessage)
	mux.HandleFunc("POST /media", s.handleMediaUpload)
	mux.HandleFunc("GET /media/{id}", s.handleMediaDownload)
	mux.HandleFunc("GET /media/{id}/metadata", s.handleMediaMetadata)
	mux.HandleFunc("GET /media/{id}/url", s.handleMediaMetadata)
	mux.HandleFunc("GET /media-url/{id}", s.handleMediaMetadata) // legacy alias
	mux.HandleFunc("DELETE /media/{id}", s.handleMediaDelete)

	mux.HandleFunc("POST /create-template", s.handleCreateTemplate)
	mux.HandleFunc("GET /templates", s.handleListTemplates)
	mux.HandleFunc("POST /edit-template/{id}", s.handleEditTemplate)
	mux.HandleFunc("DELETE /template/{id}", s.handleDeleteTemplate)

	mux.HandleFunc("GET /phone-info", s.handlePhoneInfo)
	mux.HandleFunc("GET /test-n8n", s.handleTestN8N)

	if s.cfg.Metrics.Enabled {
		mux.HandleFunc("GET "+s.cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}

	return s.accessLog(mux)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("relay server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("relay server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	}
}

// --- middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// --- response helpers ---

func (s *Server) respondData(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body := map[string]any{"success": true, "data": rawOrString(data)}
	json.NewEncoder(w).Encode(body)
}

func (s *Server) respondErrorString(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// respondUpstreamError passes a Graph API failure through verbatim: the
// upstream payload becomes the error value and the upstream status is kept.
// Anything else (network, decode) is a 500 with the error text.
func (s *Server) respondUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": rawOrString(apiErr.Body)})
		return
	}
	s.respondErrorString(w, http.StatusInternalServerError, err.Error())
}

// rawOrString keeps valid JSON as-is and falls back to a string for
// non-JSON upstream bodies (HTML error pages and the like).
func rawOrString(b json.RawMessage) any {
	if json.Valid(b) {
		return b
	}
	return string(b)
}

// requireToken answers the lazy "not configured" error when the Graph
// credential is absent. Returns false when the request was already answered.
func (s *Server) requireToken(w http.ResponseWriter) bool {
	if !s.wa.Configured() {
		s.respondErrorString(w, http.StatusBadRequest, "WHATSAPP_TOKEN is not configured")
		return false
	}
	return true
}

func (s *Server) requirePhoneNumber(w http.ResponseWriter) bool {
	if !s.requireToken(w) {
		return false
	}
	if s.wa.PhoneNumberID() == "" {
		s.respondErrorString(w, http.StatusBadRequest, "PHONE_NUMBER_ID is not configured")
		return false
	}
	return true
}

func (s *Server) requireBusinessAccount(w http.ResponseWriter) bool {
	if !s.requireToken(w) {
		return false
	}
	if s.wa.BusinessAccountID() == "" {
		s.respondErrorString(w, http.StatusBadRequest, "WABA_ID is not configured")
		return false
	}
	return true
}
