// Package server exposes the record API over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/recordapi"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultKeepalive       = 15 * time.Second
	maxBodyBytes           = 4 << 20
)

// Options configures a Server.
type Options struct {
	Address     string
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	JWTSecret   string
	Keepalive   time.Duration

	ShutdownTimeout time.Duration
	// Health reports store reachability for /api/healthcheck.
	Health func(ctx context.Context) error
	// OnShutdown runs when graceful shutdown begins, before open streams are
	// waited on. Closing the subscription hub here ends SSE responses.
	OnShutdown []func()
	Logger     *logger.Logger
}

// Server is the HTTP front end of a recordapi.Service.
type Server struct {
	svc    *recordapi.Service
	opts   Options
	router chi.Router
	log    *logger.Logger
}

// New builds the router. It does not listen.
func New(svc *recordapi.Service, opts Options) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		svc:  svc,
		opts: opts,
		log:  logger.OrNop(opts.Logger).Component("server"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID(s.log))
	r.Use(accessLog)
	r.Use(recoverer)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.opts.RateRPS > 0 {
		r.Use(newRateLimiter(s.opts.RateRPS, s.opts.RateBurst).middleware)
	}

	r.Get("/api/healthcheck", s.handleHealth)

	r.Route("/api/records/v1/{name}", func(r chi.Router) {
		r.Use(principal([]byte(s.opts.JWTSecret)))
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/schema", s.handleSchema)
		r.Get("/subscribe/{id}", s.handleSubscribe)
		r.Get("/{id}", s.handleRead)
		r.Patch("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"kind": "not_found", "message": "route not found"})
	})
	return r
}

// Run listens on Options.Address until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, fn := range s.opts.OnShutdown {
		srv.RegisterOnShutdown(fn)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("address", ln.Addr().String()).Logger().Info("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Infof("http server shutting down, waiting up to %s", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}
