package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
)

// Server fronts an upstream handler with admission control.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	cp         *checkpoint.Checkpoint

	clock    clock.Clock
	logger   log.Logger
	hub      *Hub
	gatherer prometheus.Gatherer
	upstream http.Handler
	failOpen bool
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock reported by the default upstream handler.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHub exposes hub on /ws.
func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithUpstream sets the handler admitted requests are passed to.
func WithUpstream(h http.Handler) Option {
	return func(s *Server) { s.upstream = h }
}

// WithFailOpen lets requests through when the store is unreachable.
func WithFailOpen(failOpen bool) Option {
	return func(s *Server) { s.failOpen = failOpen }
}

// New creates a server listening on addr.
func New(addr string, cp *checkpoint.Checkpoint, opts ...Option) *Server {
	s := &Server{
		cp:     cp,
		clock:  clock.NewRealClock(),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With(s.logger, "component", "server")
	if s.upstream == nil {
		s.upstream = http.HandlerFunc(s.handleAdmitted)
	}

	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(Admission(s.cp, s.failOpen, s.logger))
		r.Handle("/*", s.upstream)
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAdmitted echoes the admission decision.
func (s *Server) handleAdmitted(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"admitted":  true,
		"algorithm": s.cp.Limiter().Algorithm(),
		"path":      r.URL.Path,
		"time":      s.clock.Now().Format(time.RFC3339),
	}
	if v, ok := VerdictFromContext(r.Context()); ok {
		body["decision"] = v.Decision
	}
	writeJSON(w, http.StatusOK, body)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
func (s *Server) StartOnListener(ln net.Listener) error {
	_ = level.Info(s.logger).Log("msg", "checkpoint server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
