package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threatshield/internal/engine"
	"threatshield/internal/logger"
	"threatshield/internal/transform/cloudtrail"
	"threatshield/pkg/models"
)

const maxEventBytes = 1 << 20

// Analyzer is the engine surface the API exposes.
type Analyzer interface {
	Process(ctx context.Context, raw []byte) (*engine.Result, error)
	Profile(ctx context.Context, key string) (*models.AttackerProfile, error)
}

// Config configures the API server.
type Config struct {
	Analyzer Analyzer
	Metrics  http.Handler
	// Ready reports dependency health for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server serves event submission, profile lookup, metrics and health.
type Server struct {
	r        *chi.Mux
	analyzer Analyzer
	ready    func(ctx context.Context) error
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	s := &Server{r: chi.NewRouter(), analyzer: cfg.Analyzer, ready: cfg.Ready}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(requestLogger)
	s.r.Use(middleware.Recoverer)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Get("/readyz", s.readyz)
	if cfg.Metrics != nil {
		s.r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	s.r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.postEvent)
		r.Get("/profiles/{key}", s.getProfile)
	})
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

type eventResponse struct {
	*engine.Result
	DispatchError string `json:"dispatch_error,omitempty"`
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "event exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := s.analyzer.Process(r.Context(), body)
	if err != nil {
		var malformed *cloudtrail.MalformedEventError
		if errors.As(err, &malformed) {
			writeError(w, http.StatusUnprocessableEntity, malformed.Error())
			return
		}
		logger.Errorf("Event processing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	resp := eventResponse{Result: res}
	if res.DispatchErr != nil {
		resp.DispatchError = res.DispatchErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	p, err := s.analyzer.Profile(r.Context(), key)
	if err != nil {
		logger.Errorf("Profile lookup failed for %s: %v", key, err)
		writeError(w, http.StatusServiceUnavailable, "profile store unavailable")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debugw("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
