// Package ipc serves the control API: run start/stop over HTTP and the live
// session dashboard over a websocket.
package ipc

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/supervisor"
)

// DefaultBindAddress is the dashboard's expected API address.
const DefaultBindAddress = "127.0.0.1:8000"

// Controller is the run control surface the server exposes.
type Controller interface {
	StartRun(ctx context.Context, req supervisor.StartRequest) (*supervisor.RunInfo, error)
	StopRun() int
	Sessions() []session.Record
	Deliver(sessionID int, payload json.RawMessage) error
}

// Config controls the server.
type Config struct {
	BindAddress    string
	AllowedOrigins []string
	// MaxObservers caps concurrent websocket observers; 0 is unlimited.
	MaxObservers int
	// AuthSecret enables HS256 bearer auth on the control endpoints when set.
	AuthSecret string
	Version    string
}

// Server hosts the JSON/HTTP control API and the /ws observer stream.
type Server struct {
	cfg        Config
	ctrl       Controller
	hub        *Hub
	tokens     *TokenManager
	wsLimiter  *connLimiter
	logger     *logging.Logger
	httpServer *http.Server
	bound      chan string
}

// NewServer builds a server around ctrl. The hub must be the one ctrl
// publishes snapshots to.
func NewServer(cfg Config, ctrl Controller, hub *Hub, logger *logging.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		hub:       hub,
		wsLimiter: newConnLimiter(cfg.MaxObservers),
		logger:    logging.OrDiscard(logger).Component("ipc"),
		bound:     make(chan string, 1),
	}
	if strings.TrimSpace(cfg.AuthSecret) != "" {
		s.tokens = NewTokenManager(cfg.AuthSecret)
	}
	return s
}

// Hub returns the server's broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.recoverMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.metricsMiddleware)

	router.Get("/", s.handleRoot)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)

	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/start-test", s.handleStartTest)
		r.Post("/stop-test", s.handleStopTest)
		r.Get("/sessions", s.handleSessions)
		r.Get("/ws", s.handleWebSocket)
	})
	return router
}

// Addr returns the bound listen address once Start is serving.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-s.bound:
		s.bound <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// h2c lets the websocket upgrade through proxies that only speak HTTP/2 upstream.
	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		// Request contexts end with ctx so open websockets close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return err
	}
	s.bound <- ln.Addr().String()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving control API", "addr", ln.Addr().String(), "auth", s.tokens != nil)
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
