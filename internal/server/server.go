// Package server wires every narrator service together and runs the
// HTTP API, the conversion worker, the health monitor, and the library
// auto-scanner under one lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/events"
	"github.com/jackzampolin/narrator/internal/health"
	"github.com/jackzampolin/narrator/internal/library"
	"github.com/jackzampolin/narrator/internal/m4b"
	"github.com/jackzampolin/narrator/internal/notify"
	"github.com/jackzampolin/narrator/internal/output"
	"github.com/jackzampolin/narrator/internal/scan"
	"github.com/jackzampolin/narrator/internal/server/endpoints"
	"github.com/jackzampolin/narrator/internal/store"
	"github.com/jackzampolin/narrator/internal/svcctx"
	"github.com/jackzampolin/narrator/internal/tts"
	"github.com/jackzampolin/narrator/internal/worker"
)

// Server is the main narrator HTTP server. It owns the job store and the
// background loops (worker, health monitor, auto-scanner).
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger

	store       *store.Store
	settings    *store.Settings
	bus         *events.Bus
	healthState *health.State
	reader      library.Reader
	writer      *output.Writer
	ttsClient   *tts.Client
	worker      *worker.Worker
	monitor     *health.Monitor
	watcher     *scan.Watcher

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	appCfg := cfg.ConfigManager.Get()

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server. No write timeout so the SSE event stream can
	// stay open indefinitely.
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(appCfg.Server.Host, appCfg.Server.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start initializes all services and runs the server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	appCfg := s.configMgr.Get()

	st, err := store.Open(appCfg.Database.Path, s.logger)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = st

	settings, err := st.Settings()
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to initialize settings: %w", err)
	}
	s.settings = settings

	s.reader = library.NewReader(appCfg.Library.Path, s.logger)
	s.writer = output.NewWriter(appCfg.Output.Path, s.logger)
	s.ttsClient = tts.NewClient(appCfg.TTS, s.logger)
	s.bus = events.NewBus()
	s.healthState = health.NewState()
	s.monitor = health.NewMonitor(
		s.healthState, s.ttsClient,
		appCfg.Library.Path, appCfg.Output.Path,
		health.DefaultInterval, s.logger,
	)

	notifier := notify.NewNotifier(settings, s.logger)
	builder := m4b.NewBuilder(appCfg.Audio.AACBitrate, s.logger)

	s.worker = worker.New(worker.Config{
		Store:       st,
		Settings:    settings,
		Bus:         s.bus,
		Health:      s.healthState,
		Notifier:    notifier,
		Extractor:   worker.EpubExtractor{Logger: s.logger},
		Synthesizer: s.ttsClient,
		Builder:     builder,
		Writer:      s.writer,
		Logger:      s.logger,
	})
	s.watcher = scan.NewWatcher(s.reader, st, settings, s.writer, s.logger)

	s.services = &svcctx.Services{
		Store:     st,
		Settings:  settings,
		Bus:       s.bus,
		Health:    s.healthState,
		Library:   s.reader,
		Writer:    s.writer,
		TTS:       s.ttsClient,
		Worker:    s.worker,
		ConfigMgr: s.configMgr,
		Logger:    s.logger,
	}

	if err := m4b.CheckAvailable(); err != nil {
		s.logger.Warn("ffmpeg toolchain not found, conversions will fail", "error", err)
	}

	// Background loops stop with the server context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.monitor.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		s.worker.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		s.watcher.Run(runCtx)
	}()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			cancel()
			wg.Wait()
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	cancel()
	wg.Wait()
	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Store returns the job store. Nil before Start.
func (s *Server) Store() *store.Store {
	return s.store
}

// Worker returns the conversion worker. Nil before Start.
func (s *Server) Worker() *worker.Worker {
	return s.worker
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and worker are wired.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.worker == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
