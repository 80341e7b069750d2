// Package server exposes pipeline runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, prompt string) (*models.Result, error)
}

// Server is the HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	runner   Runner
	builds   *semaphore.Weighted
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server.
func New(cfg config.ServerConfig, runner Runner, opts ...Option) *Server {
	if cfg.MaxConcurrentBuilds < 1 {
		cfg.MaxConcurrentBuilds = 1
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		runner:   runner,
		builds:   semaphore.NewWeighted(int64(cfg.MaxConcurrentBuilds)),
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.tracing)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Duration-Ms", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(s.admission)
		r.Post("/build", s.handleBuild)
		r.Post("/build/stream", s.handleBuildStream)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("hwb server listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// timedWriter stamps X-Duration-Ms when the header is written.
type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (w *timedWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.Header().Set("X-Duration-Ms", strconv.FormatInt(time.Since(w.start).Milliseconds(), 10))
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *timedWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-Id", id)
		tw := &timedWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}

		next.ServeHTTP(tw, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", tw.status),
			zap.Duration("duration", time.Since(tw.start)),
		)
	})
}

// admission rejects builds beyond the configured concurrency.
func (s *Server) admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.builds.TryAcquire(1) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RetryAfter.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many concurrent builds. Try again shortly.",
			})
			return
		}
		defer s.builds.Release(1)
		next.ServeHTTP(w, r)
	})
}

type buildRequest struct {
	Prompt string `json:"prompt"`
}

type agentLogEntry struct {
	Stage      string             `json:"stage"`
	Task       string             `json:"task"`
	Status     models.StageStatus `json:"status"`
	DurationMs int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
}

type buildResponse struct {
	RunID      string           `json:"run_id"`
	Status     models.RunStatus `json:"status"`
	Project    map[string]any   `json:"project"`
	Errors     []string         `json:"errors"`
	AgentLog   []agentLogEntry  `json:"agent_log"`
	Progress   []string         `json:"progress,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func newBuildResponse(res *models.Result, progress []string) buildResponse {
	log := make([]agentLogEntry, 0, len(res.Messages))
	for _, m := range res.Messages {
		log = append(log, agentLogEntry{Stage: m.To, Task: m.Task, Status: m.Status, DurationMs: m.DurationMs, Error: m.Error})
	}
	return buildResponse{
		RunID:      res.ID,
		Status:     res.Status,
		Project:    res.Outputs,
		Errors:     res.Errors,
		AgentLog:   log,
		Progress:   progress,
		DurationMs: res.DurationMs,
	}
}

func decodeBuild(w http.ResponseWriter, r *http.Request) (string, error) {
	var req buildRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid JSON body: %w", err)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	prompt, err := decodeBuild(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	progress := &status.Collector{}
	res, err := s.runner.Run(status.WithSink(r.Context(), progress), prompt)
	if res == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "detail": errString(err)})
		return
	}
	if err != nil {
		s.logger.Warn("build halted", zap.String("run_id", res.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, newBuildResponse(res, progress.Lines()))
}

// handleBuildStream reports progress as server-sent events: one "status"
// event per notification, then "result" and "done".
func (s *Server) handleBuildStream(w http.ResponseWriter, r *http.Request) {
	prompt, err := decodeBuild(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) {
		b, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	// Stages run sequentially on this goroutine, so the sink writes directly.
	sink := status.Func(func(text string) {
		send("status", map[string]string{"message": text})
	})
	res, err := s.runner.Run(status.WithSink(r.Context(), sink), prompt)
	if res != nil {
		send("result", newBuildResponse(res, nil))
	} else {
		send("error", map[string]string{"error": errString(err)})
	}
	send("done", struct{}{})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
