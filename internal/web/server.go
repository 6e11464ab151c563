// Package web provides the HTTP API of the importer: file uploads, job
// progress over SSE and WebSocket, results and failed row exports.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/source"
	"github.com/JonMunkholm/importer/internal/store"
	"github.com/JonMunkholm/importer/internal/web/middleware"
)

// History reads finished runs. Satisfied by *store.Store.
type History interface {
	ListRuns(ctx context.Context, kind string, limit int) ([]store.Run, error)
	ListFailedRows(ctx context.Context, runID string) ([]core.FailedRow, error)
}

// Server is the HTTP server of the importer.
type Server struct {
	service *core.Service
	history History
	s3      *source.S3Fetcher
	cfg     *config.Config
	hub     *Hub
	router  *chi.Mux
	server  *http.Server

	stopObserving func()
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory enables the run history endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithS3 lets uploads name an S3 object instead of sending a file.
func WithS3(f *source.S3Fetcher) Option {
	return func(s *Server) { s.s3 = f }
}

// NewServer creates a Server. Progress of every job is broadcast to
// WebSocket clients until Shutdown.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		hub:     NewHub(),
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stopObserving = service.AddObserver(s.hub.Broadcast)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(&s.cfg.Security))

		// Streaming endpoints must outlive the request timeout.
		r.Get("/imports/{importID}/progress", s.handleImportProgress)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			if d := s.cfg.Server.RequestTimeout; d > 0 {
				r.Use(chimw.Timeout(d))
			}

			r.Get("/kinds", s.handleListKinds)
			r.Get("/kinds/{kind}/template", s.handleDownloadTemplate)

			r.Get("/imports", s.handleListImports)
			r.Post("/imports/{kind}", s.handleStartImport)
			r.Get("/imports/{importID}", s.handleImportStatus)
			r.Get("/imports/{importID}/result", s.handleImportResult)
			r.Post("/imports/{importID}/cancel", s.handleCancelImport)
			r.Get("/imports/{importID}/failed-rows", s.handleExportFailedRows)

			r.Get("/limiter", s.handleLimiterStatus)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}/failed-rows", s.handleRunFailedRows)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopObserving()
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed window limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(rl.window)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
