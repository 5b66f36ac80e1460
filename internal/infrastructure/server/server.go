package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/api/http"
	"github.com/GriffinCanCode/notebook-lsp/internal/api/middleware"
	"github.com/GriffinCanCode/notebook-lsp/internal/api/ws"
	"github.com/GriffinCanCode/notebook-lsp/internal/domain/conversation"
	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/notebook-lsp/internal/kernel"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/process"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *nethttp.Server
	registry *session.Registry
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing notebook server",
		zap.String("port", cfg.Server.Port),
		zap.String("analysis_cmd", cfg.Analysis.Command),
		zap.Bool("kernel_enabled", cfg.Kernel.Enabled),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("notebook-lsp", logger.Named("trace").Logger)

	store, err := conversation.NewFileStore(cfg.Store.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	root, err := rootURI(cfg.Analysis.Dir)
	if err != nil {
		return nil, err
	}
	analysis := process.Config{
		Command:        cfg.Analysis.Command,
		Args:           cfg.Analysis.Args,
		Dir:            cfg.Analysis.Dir,
		RootURI:        root,
		InitTimeout:    cfg.Analysis.InitTimeout.Std(),
		RequestTimeout: cfg.Analysis.RequestTimeout.Std(),
		QueueSize:      cfg.Analysis.QueueSize,
	}

	engine, err := engines(cfg.Kernel, logger, metrics)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(session.Options{
		Spawn:           session.ProcessSpawner(analysis, logger, metrics),
		Engine:          engine,
		RespawnFailures: cfg.Analysis.RespawnFailures,
		RespawnWindow:   cfg.Analysis.RespawnWindow.Std(),
		RespawnCooldown: cfg.Analysis.RespawnCooldown.Std(),
		SubscriberQueue: cfg.Analysis.QueueSize,
		Logger:          logger,
		Metrics:         metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.NewCORSConfig(cfg.CORS.Origins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Skip:              []string{"/ws/"},
		}))
	}

	http.NewHandlers(store, registry, metrics, logger).Register(router)
	ws.NewHandler(store, registry, logger, metrics, ws.Options{
		AllowedOrigins:    cfg.CORS.Origins,
		RequestsPerSecond: cfg.RateLimit.LSPRequestsPerSecond,
		Burst:             cfg.RateLimit.LSPBurst,
	}).Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &nethttp.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		registry: registry,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() nethttp.Handler {
	return s.router
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, then tears down every session so
// analysis servers and kernels exit with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	// hijacked sockets are not tracked by http.Server
	s.registry.Close()
	s.tracer.Close()

	_ = s.logger.Sync()
	return err
}

func engines(cfg config.KernelConfig, logger *logging.Logger, metrics *monitoring.Metrics) (session.EngineFunc, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var driver string
	if cfg.Driver != "" {
		src, err := os.ReadFile(cfg.Driver)
		if err != nil {
			return nil, fmt.Errorf("failed to read kernel driver: %w", err)
		}
		driver = string(src)
	}
	return func(conv string) kernel.Engine {
		return kernel.NewPTYEngine(kernel.Config{
			Command: cfg.Command,
			Args:    cfg.Args,
			Driver:  driver,
			Timeout: cfg.Timeout.Std(),
		}, logger.Conversation(conv), metrics)
	}, nil
}

func rootURI(dir string) (protocol.DocumentURI, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve analysis dir: %w", err)
	}
	return protocol.DocumentURI("file://" + filepath.ToSlash(abs)), nil
}
