package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/gateway"
)

// Executor runs submissions. *gateway.Gateway satisfies it.
type Executor interface {
	Execute(ctx context.Context, req gateway.Request) (*gateway.Response, error)
	InFlight() int
	Capacity() int
}

// Server is the HTTP front end for the execution gateway.
type Server struct {
	cfg      *config.Config
	exec     Executor
	sessions *SessionManager
	router   chi.Router
	http     *http.Server
	logger   *logrus.Entry

	// baseCtx parents every request context; canceling it kills whatever
	// is still executing when the drain window runs out.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	handlers   sync.WaitGroup
}

// New creates a new Server.
func New(cfg *config.Config, exec Executor, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		exec:     exec,
		sessions: NewSessionManager(),
		router:   chi.NewRouter(),
		logger:   logger.WithField("component", "server"),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.setupRoutes(logger)
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

func (s *Server) setupRoutes(logger *logrus.Logger) {
	r := s.router

	// Global middleware
	r.Use(s.trackHandlers)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logger.WithField("component", "http"),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.With(jsonContentType).Post("/execute", s.handleExecute)
		r.With(jsonContentType).Get("/health", s.handleHealth)

		// WebSocket (no JSON content-type)
		r.Get("/execute/ws", s.handleExecuteWS)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// trackHandlers lets Shutdown wait for handlers, including hijacked
// WebSocket ones that http.Server stops tracking.
func (s *Server) trackHandlers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.Add(1)
		defer s.handlers.Done()
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured port and blocks until the server stops.
// After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Infof("sandboxd listening on http://localhost%s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown cancels open execution streams and drains HTTP requests. Runs
// still going when the shutdown timeout expires are killed, and Shutdown
// returns only once every handler has released its workspace.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.sessions.CloseAll()
	defer func() {
		s.cancelBase()
		s.handlers.Wait()
	}()

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
