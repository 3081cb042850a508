// Package server exposes the plotter control surface over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/phoenix-pocx/phoenixd/internal/errors"
	"github.com/phoenix-pocx/phoenixd/internal/server/handlers"
	"github.com/phoenix-pocx/phoenixd/internal/server/middleware"
)

// Server is the HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	logger *zap.Logger

	plotter *handlers.Plotter
	history *handlers.History
	metrics http.Handler
	events  http.Handler
	pprof   bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithPlotter mounts the plotter API.
func WithPlotter(h *handlers.Plotter) Option {
	return func(s *Server) { s.plotter = h }
}

// WithHistory mounts the completion journal.
func WithHistory(h *handlers.History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics mounts a prometheus handler on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithEvents mounts the websocket event stream.
func WithEvents(h http.Handler) Option {
	return func(s *Server) { s.events = h }
}

// WithPprof mounts net/http/pprof under /debug/pprof.
func WithPprof(enabled bool) Option {
	return func(s *Server) { s.pprof = enabled }
}

// WithLogger sets the access logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New creates a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, r, http.StatusNotFound, apperrors.CodeNotFound,
			fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, r, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	if s.pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.HandleFunc("/", pprof.Index)
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
			r.Handle("/{profile}", http.HandlerFunc(pprof.Index))
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/drives", handlers.DrivesScan)
		if s.events != nil {
			r.Method(http.MethodGet, "/events", s.events)
		}

		r.Route("/plotter", func(r chi.Router) {
			if p := s.plotter; p != nil {
				r.Get("/state", p.State)
				r.Get("/plan", p.GetPlan)
				r.Put("/plan", p.PutPlan)
				r.Delete("/plan", p.DeletePlan)
				r.Post("/start", p.Start)
				r.Post("/stop/soft", p.SoftStop)
				r.Post("/stop/hard", p.HardStop)
				r.Post("/stop/clear", p.ClearStop)
				r.Post("/advance", p.Advance)
				r.Post("/execute", p.Execute)
				r.Post("/execute-batch", p.ExecuteBatch)
				r.Get("/running", p.Running)
				r.Get("/stop-mode", p.StopMode)
			}
			if h := s.history; h != nil {
				r.Get("/history", h.List)
				r.Get("/history/{seq}", h.Get(func(r *http.Request) string { return chi.URLParam(r, "seq") }))
			}
		})
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port, or the bound port once listening.
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.Port()))
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", s.host, s.port, err)
	}
	s.listener = ln
	return nil
}

// Serve serves until Shutdown. It binds first if Listen was not called.
// A clean shutdown returns nil.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.listener.Addr().String()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
