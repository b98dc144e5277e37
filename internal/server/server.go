// Package server hosts the webhook, health and metrics endpoints on one
// HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

// LegacyWebhookPath is kept as an alias for deployments configured
// against the old endpoint.
const LegacyWebhookPath = "/whatsapp"

const defaultShutdownTimeout = 5 * time.Second

// Config configures the HTTP server.
type Config struct {
	Host           string
	Port           int
	WebhookPath    string
	MaxConnections int // 0 = unlimited

	Webhook http.Handler
	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string

	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server serves the webhook until its context ends.
type Server struct {
	httpServer      *http.Server
	cfg             Config
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	serveErr error
}

// New builds the route table and middleware chain. Nothing is bound until
// Start.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:             cfg,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		done:            make(chan struct{}),
	}

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      300 * time.Second, // sync replies wait for transcription
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.cfg.Webhook != nil {
		mux.Handle("POST "+s.cfg.WebhookPath, s.cfg.Webhook)
		if s.cfg.WebhookPath != LegacyWebhookPath {
			mux.Handle("POST "+LegacyWebhookPath, s.cfg.Webhook)
		}
	}

	mux.HandleFunc("GET /health", healthz)
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /{$}", healthz)

	if s.cfg.Metrics != nil && s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.Metrics)
	}

	return chain(mux, accessLog(s.logger), recovery(s.logger), requestID)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// Start binds the listener and serves in the background. It returns once the
// port is bound. The server shuts down gracefully when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Warn("graceful shutdown incomplete", "err", err)
			}
		case <-s.done:
		}
	}()

	s.logger.Info("HTTP server started",
		"addr", ln.Addr().String(),
		"webhook", s.cfg.WebhookPath,
		"max_connections", s.cfg.MaxConnections,
	)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Wait blocks until the server has stopped serving.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
