// Package web is the client-facing transport of voxconv: a JSON REST API for
// the shell, catalogs and transcript exports, and a WebSocket endpoint that
// binds one shell view to one browser tab.
//
// WebSocket protocol: text frames carry JSON messages {"type": ..., ...} in
// both directions; binary frames carry microphone audio from the client and
// synthesised PCM to the client.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxconv/internal/health"
	"github.com/MrWong99/voxconv/internal/notice"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/shell"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
)

// Config tunes the transport.
type Config struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string

	// OriginPatterns accepted for WebSocket upgrades from other hosts.
	OriginPatterns []string

	// RateLimit is the number of REST requests allowed per client IP within
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Server serves the REST API and the WebSocket endpoint.
type Server struct {
	views   *shell.Manager
	catalog *synthesis.Catalog
	health  *health.Handler
	metrics *observe.Metrics
	cfg     Config
}

// NewServer returns a Server. catalog may be nil when no TTS provider is
// configured.
func NewServer(views *shell.Manager, catalog *synthesis.Catalog, h *health.Handler, m *observe.Metrics, cfg Config) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{views: views, catalog: catalog, health: h, metrics: m, cfg: cfg.withDefaults()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Recover())
	r.Use(observe.Middleware(s.metrics))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	if s.health != nil {
		s.health.Register(r)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow))
		}
		r.Get("/shell", s.handleShell)
		r.Get("/voices", s.handleVoices)
		r.Get("/languages", s.handleLanguages)
		r.Route("/views/{id}", func(r chi.Router) {
			r.Get("/", s.handleView)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/stats", s.handleStats)
			r.Post("/share", s.handleShare)
		})
	})
	return r
}

type errorBody struct {
	Error  string         `json:"error"`
	Notice *notice.Notice `json:"notice,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if n, ok := notice.FromError(err); ok {
		body.Notice = &n
	}
	writeJSON(w, status, body)
}

func (s *Server) handleShell(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.Chrome())
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, notice.ErrCapabilityUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Loaded bool `json:"loaded"`
		Voices any  `json:"voices"`
	}{Loaded: s.catalog.Loaded(), Voices: s.catalog.Voices()})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.Languages())
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) (*shell.View, bool) {
	v, ok := s.views.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "view not found"})
	}
	return v, ok
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) transcription(w http.ResponseWriter, r *http.Request) (*transcription.Panel, bool) {
	v, ok := s.view(w, r)
	if !ok {
		return nil, false
	}
	p, err := v.Transcription()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return nil, false
	}
	return p, true
}

// handleTranscript serves the finalized transcript as an attachment.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transcription(w, r)
	if !ok {
		return
	}
	d, err := p.Download()
	if errors.Is(err, notice.ErrEmptyInput) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "transcript is empty"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.Body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transcription(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

// handleShare uploads the transcript and returns its link. Without a share
// store it answers 501 so the client falls back to copying the text.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transcription(w, r)
	if !ok {
		return
	}
	url, err := p.Share(r.Context())
	switch {
	case errors.Is(err, transcription.ErrShareUnavailable):
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error()})
	case errors.Is(err, notice.ErrEmptyInput):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "transcript is empty"})
	case err != nil:
		observe.Logger(r.Context()).Warn("web: share failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "share failed"})
	default:
		writeJSON(w, http.StatusOK, struct {
			URL string `json:"url"`
		}{URL: url})
	}
}
