// Package server exposes the validation controller over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ShayCichocki/valiloop/internal/orchestrator"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

const contentType = "application/json"

// Validator is the part of the controller the server drives.
type Validator interface {
	Validate(ctx context.Context, ref string) orchestrator.Response
	Reset() error
}

// Server routes HTTP requests to the controller.
type Server struct {
	validator   Validator
	rc          *orchestrator.RunContext
	metrics     http.Handler
	settleDelay time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSettleDelay waits d before each validation so the bundle referenced
// by the request has finished downloading.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Server) { s.settleDelay = d }
}

// New creates a Server.
func New(v Validator, rc *orchestrator.RunContext, opts ...Option) *Server {
	s := &Server{validator: v, rc: rc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/vali", s.handleValidate)
	mux.Get("/status", s.handleStatus)
	mux.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleGetConfig)
		r.Post("/", s.handleSetConfig)
	})
	mux.Post("/reset", s.handleReset)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		encodeResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("fileName")
	if ref == "" {
		encodeResponse(w, http.StatusBadRequest, orchestrator.Response{
			Message: orchestrator.StatusError,
			Result:  "fileName query parameter is required",
		})
		return
	}

	if s.settleDelay > 0 {
		select {
		case <-time.After(s.settleDelay):
		case <-r.Context().Done():
			return
		}
	}

	log.Printf("[server] validation requested for %s", ref)
	// The attempt outlives a dropped client so teardown and the ledger row
	// still happen.
	resp := s.validator.Validate(context.WithoutCancel(r.Context()), ref)
	encodeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	encodeResponse(w, http.StatusOK, s.rc.Snapshot())
}

// settings is the body of GET and POST /config.
type settings struct {
	ParallelCount int    `json:"parallel_count"`
	RoundLimit    int    `json:"round_limit"`
	Provider      string `json:"provider,omitempty"`
}

func (s *Server) currentSettings() settings {
	return settings{
		ParallelCount: s.rc.Parallel(),
		RoundLimit:    s.rc.RoundLimit(),
		Provider:      s.rc.Provider().String(),
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	encodeResponse(w, http.StatusOK, s.currentSettings())
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		encodeError(w, http.StatusBadRequest, err)
		return
	}

	var provider *models.Provider
	if req.Provider != "" {
		p, err := models.ParseProvider(req.Provider)
		if err != nil {
			encodeError(w, http.StatusBadRequest, err)
			return
		}
		provider = &p
	}
	if err := s.rc.Configure(req.ParallelCount, req.RoundLimit); err != nil {
		encodeError(w, http.StatusBadRequest, err)
		return
	}
	if provider != nil {
		s.rc.SetProvider(*provider)
	}

	cur := s.currentSettings()
	log.Printf("[server] settings updated: parallel=%d round_limit=%d provider=%s", cur.ParallelCount, cur.RoundLimit, cur.Provider)
	encodeResponse(w, http.StatusOK, cur)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.validator.Reset(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrRunInProgress) {
			code = http.StatusConflict
		}
		encodeError(w, code, err)
		return
	}
	encodeResponse(w, http.StatusOK, map[string]string{"status": "reset"})
}

func encodeResponse(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func encodeError(w http.ResponseWriter, code int, err error) {
	encodeResponse(w, code, map[string]string{"error": err.Error()})
}
