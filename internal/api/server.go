// Package api implements the review helper's HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/agent"
	"github.com/rajeevc5260/Code-Review-Helper/internal/buildinfo"
	"github.com/rajeevc5260/Code-Review-Helper/internal/connwatch"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
)

// maxBodyBytes bounds JSON request bodies. Structure documents can be
// large; questions are bounded separately by the agent.
const maxBodyBytes = 4 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner answers one question, streaming events. Both the review
// orchestrator and the document analyzer implement it.
type Runner interface {
	Run(ctx context.Context, req *agent.Request, em stream.Emitter) *agent.Result
}

// HealthReporter reports backend reachability.
type HealthReporter interface {
	Status() map[string]connwatch.ServiceStatus
}

// Deps are the server's collaborators. A nil dependency disables the
// routes that need it; they answer 503.
type Deps struct {
	Reviewer Runner
	Analyzer Runner
	Store    memory.Store
	Files    storage.Opener
	Bus      *events.Bus
	Health   HealthReporter // optional
	Usage    UsageReporter  // optional
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	reviewer Runner
	analyzer Runner
	store    memory.Store
	files    storage.Opener
	bus      *events.Bus
	health   HealthReporter
	usage    UsageReporter
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		reviewer: deps.Reviewer,
		analyzer: deps.Analyzer,
		store:    deps.Store,
		files:    deps.Files,
		bus:      deps.Bus,
		health:   deps.Health,
		usage:    deps.Usage,
		logger:   deps.Logger.With("component", "api"),
	}
}

// Handler returns the routed handler, wrapped in access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Review endpoints (SSE)
	mux.HandleFunc("POST /v1/review/chat", s.handleReviewChat)
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)

	// Conversation history
	mux.HandleFunc("POST /v1/conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleConversationMessages)

	// Upload structures
	mux.HandleFunc("PUT /v1/structures/{subject}", s.handleStructurePut)
	mux.HandleFunc("GET /v1/structures/{subject}", s.handleStructureGet)

	// Signed download links
	mux.HandleFunc("GET "+storage.DownloadPath, s.handleDownload)

	// Operational event feed and token accounting
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams reset their own write deadline on every event.
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusWriter records the response status for the access log. It
// forwards Flush and Hijack so streaming and WebSocket routes still work.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Code Review Helper",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth reports which routes are wired and, when watched, whether
// the backends answer. An unreachable backend degrades the status but
// the endpoint still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var services map[string]connwatch.ServiceStatus
	if s.health != nil {
		services = s.health.Status()
		for _, svc := range services {
			if !svc.Ready {
				status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status": status,
		"components": map[string]bool{
			"review":   s.reviewer != nil,
			"analyze":  s.analyzer != nil,
			"store":    s.store != nil,
			"download": s.files != nil,
			"usage":    s.usage != nil,
		},
		"services": services,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	errType := "invalid_request_error"
	switch {
	case code == http.StatusNotFound:
		errType = "not_found_error"
	case code >= 500:
		errType = "server_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}, s.logger)
}

// decodeBody decodes a bounded JSON body, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
