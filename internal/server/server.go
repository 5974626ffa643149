// Package server exposes the REST façade over the connection lifecycle
// manager, plus a server-rendered dashboard.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/lifecycle"
)

// Lifecycle is the surface of the lifecycle manager the handlers use.
type Lifecycle interface {
	Snapshot() lifecycle.Snapshot
	QR() (string, bool)
	RequestConnect(ctx context.Context) (lifecycle.Snapshot, error)
	RequestDisconnect(ctx context.Context, opts lifecycle.DisconnectOptions) (lifecycle.DisconnectResult, error)
	ClearAuth(ctx context.Context) (lifecycle.Snapshot, error)
	SendMessage(ctx context.Context, target, text string, media *lifecycle.Media) (string, error)
	ListGroups(ctx context.Context) ([]lifecycle.Group, error)
}

// Config holds server configuration.
type Config struct {
	Addr           string
	Logger         *zap.Logger
	Manager        Lifecycle
	UploadDir      string
	MaxUploadBytes int64
}

// Server is the HTTP façade.
type Server struct {
	router    chi.Router
	server    *http.Server
	logger    *zap.Logger
	manager   Lifecycle
	uploads   *uploadScratch
	startTime time.Time
}

// New creates the server and registers all routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}

	s := &Server{
		router:    chi.NewRouter(),
		logger:    cfg.Logger,
		manager:   cfg.Manager,
		uploads:   &uploadScratch{dir: cfg.UploadDir, maxBytes: cfg.MaxUploadBytes},
		startTime: time.Now(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	s.router.Use(s.logRequests)

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api", s.handleAPIStatus)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/qr", s.handleQR)
	s.router.Get("/qr/display", s.handleQRDisplay)
	s.router.Post("/connect", s.handleConnect)
	s.router.Post("/disconnect", s.handleDisconnect)
	s.router.Post("/clear-auth", s.handleClearAuth)
	s.router.Post("/send-message", s.handleSendMessage)
	s.router.Get("/groups", s.handleGroups)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}
