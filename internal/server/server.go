package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/forwarder"
	"github.com/JustVugg/msgboard/internal/health"
	"github.com/JustVugg/msgboard/internal/metrics"
	"github.com/JustVugg/msgboard/internal/middleware"
)

const internalPrefix = "/_board"

type Server struct {
	config        *config.Config
	sender        forwarder.Sender
	feed          http.Handler
	daemonAddr    string
	healthMonitor *health.Monitor
	logger        *zap.Logger

	httpServer *http.Server
	listener   net.Listener

	mu      sync.RWMutex
	handler http.Handler
}

type Option func(*Server)

// WithFeed mounts the live feed handler at config.Feed.Path when the feed is
// enabled.
func WithFeed(feed http.Handler) Option {
	return func(s *Server) {
		s.feed = feed
	}
}

// WithDaemonAddr sets the daemon address reported by the health endpoint,
// for when the daemon bound something other than config.Daemon.Listen.
func WithDaemonAddr(addr string) Option {
	return func(s *Server) {
		s.daemonAddr = addr
	}
}

func New(cfg *config.Config, sender forwarder.Sender, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		config:     cfg,
		sender:     sender,
		daemonAddr: cfg.Daemon.Listen,
		logger:     logger.Named("web"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.healthMonitor = health.NewMonitor(s.daemonAddr, cfg.Storage.Path)

	s.handler = s.buildHandler(cfg)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      http.HandlerFunc(s.serveHTTP),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	return s
}

// Handler is the full handler chain, for use without a listener.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()

	h.ServeHTTP(w, r)
}

func (s *Server) buildHandler(cfg *config.Config) http.Handler {
	router := s.buildRouter(cfg)
	handler := http.Handler(router)

	if cfg.Server.HTTP2 {
		h2s := &http2.Server{}
		handler = h2c.NewHandler(handler, h2s)
	}

	if cfg.Server.CORS != nil && cfg.Server.CORS.Enabled {
		c := cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			AllowedMethods: cfg.Server.CORS.AllowedMethods,
			AllowedHeaders: cfg.Server.CORS.AllowedHeaders,
			MaxAge:         cfg.Server.CORS.MaxAge,
		})
		handler = c.Handler(handler)
	}

	return handler
}

func (s *Server) buildRouter(cfg *config.Config) *mux.Router {
	router := mux.NewRouter()
	router.SkipClean(true)

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.Logging(s.logger))
	router.Use(middleware.Headers(cfg.Server.Headers))
	if cfg.Metrics.Enabled {
		router.Use(metrics.Middleware)
	}

	s.setupInternalEndpoints(router, cfg)
	s.setupRoutes(router, cfg)

	router.MethodNotAllowedHandler = http.HandlerFunc(notImplemented)

	router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err == nil {
			methods, _ := route.GetMethods()
			s.logger.Debug("route registered",
				zap.String("name", route.GetName()),
				zap.String("path", tpl),
				zap.String("methods", strings.Join(methods, ",")),
			)
		}
		return nil
	})

	return router
}

// setupRoutes registers the page routes. Order matters: the catch-all
// prefixes come last.
func (s *Server) setupRoutes(router *mux.Router, cfg *config.Config) {
	p := newPages(cfg.Pages, s.logger)

	router.HandleFunc("/", p.home).Methods(http.MethodGet).Name("home")
	router.HandleFunc("/message", p.message).Methods(http.MethodGet).Name("message")

	submit := http.Handler(&submitHandler{sender: s.sender, logger: s.logger})
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		submit = middleware.NewRateLimiter(cfg.RateLimit).Middleware(submit)
	}
	router.PathPrefix("/").Methods(http.MethodPost).Handler(submit).Name("submit")

	router.PathPrefix("/").Methods(http.MethodGet).HandlerFunc(p.static).Name("static")
	router.NotFoundHandler = http.HandlerFunc(p.static)
}

func (s *Server) setupInternalEndpoints(router *mux.Router, cfg *config.Config) {
	router.HandleFunc(internalPrefix+"/health", s.healthMonitor.HealthHandler).Methods(http.MethodGet).Name("health")
	router.HandleFunc(internalPrefix+"/live", s.healthMonitor.LivenessHandler).Methods(http.MethodGet).Name("live")

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	}

	if cfg.Feed.Enabled && s.feed != nil {
		router.Handle(cfg.Feed.Path, s.feed).Methods(http.MethodGet).Name("feed")
	}
}

// Listen binds the HTTP listener.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Server.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the listener bound by Listen until ctx is
// done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("web front listening", zap.String("addr", s.listener.Addr().String()))
		errChan <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down web front")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Reload rebuilds the routes from newConfig. The listener, timeouts, daemon
// address and store path are kept; changing those needs a restart.
func (s *Server) Reload(newConfig *config.Config) {
	s.logger.Info("reloading configuration")

	handler := s.buildHandler(newConfig)

	s.mu.Lock()
	s.config.Pages = newConfig.Pages
	s.config.Server.Headers = newConfig.Server.Headers
	s.config.RateLimit = newConfig.RateLimit
	s.config.Metrics = newConfig.Metrics
	s.config.Feed = newConfig.Feed
	s.handler = handler
	s.mu.Unlock()

	s.logger.Info("configuration reloaded")
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "unsupported method "+r.Method, http.StatusNotImplemented)
}
