package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dontdude/codestream/internal/domain"
	"github.com/dontdude/codestream/internal/stream"
)

// Executions is the orchestrator as seen by the HTTP layer.
type Executions interface {
	Submit(ctx context.Context, code string, language domain.Language) (string, error)
	Run(ctx context.Context, id string) (*stream.Emitter, error)
	Stop(id string)
	Find(ctx context.Context, id string) (*domain.Execution, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
}

// Server is the HTTP submission surface.
type Server struct {
	cfg      Config
	svc      Executions
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
	router   chi.Router
	http     *http.Server
}

// NewServer creates the server and its routes.
func NewServer(cfg Config, svc Executions, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)

	r.Route("/execute", func(r chi.Router) {
		r.With(s.limiter.Middleware).Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleStream)
		r.Get("/{id}/ws", s.handleWebSocket)
		r.Post("/{id}", s.handleStop)
		r.Get("/{id}/details", s.handleDetails)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API Server starting", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.limiter.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per request after it completed.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()),
		)
	})
}

// cors adds headers to allow requests from the configured frontends.
func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := slices.Contains(s.cfg.CORSOrigins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.cfg.CORSOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
