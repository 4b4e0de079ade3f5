// Package server exposes the download registry to the mod manager UI over
// HTTP and a websocket change feed.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/battlewithbytes/modstore/internal/config"
	"github.com/battlewithbytes/modstore/internal/downloads"
	"github.com/battlewithbytes/modstore/internal/history"
	"github.com/battlewithbytes/modstore/internal/metrics"
)

// Installer starts installs on the Installer Backend.
type Installer interface {
	Install(ctx context.Context, id, url string) (string, error)
	Health(ctx context.Context) error
}

// HistoryReader lists finished installs.
type HistoryReader interface {
	Recent(limit int) ([]history.Entry, error)
}

// maxHistoryLimit caps ?limit= on the history endpoint.
const maxHistoryLimit = 500

// Server is the HTTP API of the mod store.
type Server struct {
	cfg       *config.Config
	reg       *downloads.Registry
	disp      *downloads.Dispatcher
	installer Installer
	history   HistoryReader
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
	log       *zap.SugaredLogger
	handler   http.Handler
	http      *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithInstaller sets the backend used by install requests.
func WithInstaller(i Installer) Option {
	return func(s *Server) { s.installer = i }
}

// WithHistory enables the history endpoint.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics counts API requests in c and serves g on /metrics.
func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a new Server.
func New(cfg *config.Config, reg *downloads.Registry, disp *downloads.Dispatcher, opts ...Option) *Server {
	s := &Server{
		cfg:  cfg,
		reg:  reg,
		disp: disp,
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// API routes: downloads
	mux.HandleFunc("GET /api/downloads", s.handleListDownloads)
	mux.HandleFunc("POST /api/downloads", s.handleStartDownload)
	mux.HandleFunc("GET /api/downloads/ws", s.handleDownloadFeed)
	mux.HandleFunc("POST /api/downloads/{id}/cancel", s.handleCancelDownload)
	mux.HandleFunc("DELETE /api/downloads/completed", s.handleClearCompleted)

	// API routes: backend handoff
	mux.HandleFunc("POST /api/protocol", s.handleProtocol)
	mux.HandleFunc("POST /api/events", s.handleEvent)

	mux.HandleFunc("GET /api/history", s.handleHistory)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = maxBodyMiddleware(handler, 1<<20) // 1 MB limit for API requests
	handler = corsMiddleware(handler)
	handler = s.logMiddleware(handler)
	s.handler = handler

	s.http = &http.Server{
		Addr:         cfg.Service.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

func maxBodyMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only limit request body for API POST/PUT/DELETE, not WebSocket upgrades
		if r.Body != nil && strings.HasPrefix(r.URL.Path, "/api/") && r.Method != "GET" &&
			!strings.Contains(r.Header.Get("Upgrade"), "websocket") {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
		if s.metrics != nil {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			s.metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			// Reflect the request origin only if it matches this server's host
			// or a local UI.
			host := r.Host
			if strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host) ||
				strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Upgrade, Connection")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOriginPatterns returns WebSocket origin patterns matching the server's host.
func (s *Server) allowedOriginPatterns(r *http.Request) []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	if host := r.Host; host != "" {
		h := host
		if idx := strings.LastIndex(h, ":"); idx > 0 {
			h = h[:idx]
		}
		patterns = append(patterns, h+":*", host)
	}
	return patterns
}
