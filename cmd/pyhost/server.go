package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/pyhost/api/handlers"
	"github.com/BaSui01/pyhost/config"
	"github.com/BaSui01/pyhost/internal/metrics"
	"github.com/BaSui01/pyhost/internal/server"
	"github.com/BaSui01/pyhost/internal/telemetry"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 是 pyhost 的主服务器
type Server struct {
	cfg      *config.Config
	loader   *config.Loader
	logger   *zap.Logger
	logLevel zap.AtomicLevel
	otel     *telemetry.Providers

	core      *core
	collector *metrics.Collector
	hotReload *config.HotReloadManager

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:      cfg,
		loader:   loader,
		logger:   logger,
		logLevel: level,
		otel:     otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start wires every component and starts listening. Run blocks afterwards.
func (s *Server) Start(ctx context.Context) error {
	// 1. 指标收集器
	s.collector = metrics.NewCollector("pyhost", s.logger)

	// 2. 执行核心
	c, err := newCore(ctx, s.cfg, s.logger, coreOptions{
		recorder: s.collector,
		gilObs:   s.collector,
		dbObserver: func(open, idle int) {
			s.collector.RecordDBConnections(s.cfg.Database.Driver, open, idle)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to init execution core: %w", err)
	}
	s.core = c

	// 3. 热更新
	if err := s.initHotReload(ctx); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 4. HTTP 服务器
	s.httpManager = server.NewManager(s.buildHandler(), server.Config{
		Name:            "http",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. Metrics 服务器（0 表示挂在主端口）
	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.ReadTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.loader.Path() != ""))
	return nil
}

// initHotReload applies execution limits and the log level on reload.
// Other sections are recorded and take effect after a restart.
func (s *Server) initHotReload(ctx context.Context) error {
	s.hotReload = config.NewHotReloadManager(s.cfg, s.loader, s.logger)
	s.hotReload.OnReload(func(_, next *config.Config) error {
		s.core.coord.UpdateLimits(limitsFrom(next.Execution))
		s.logLevel.SetLevel(parseLevel(next.Log.Level))
		return nil
	})
	return s.hotReload.Start(ctx)
}

// buildHandler registers every route and wraps the mux in the middleware
// chain.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	if s.core.dbPool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.core.dbPool.Ping))
	}
	if s.core.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.core.cache.Ping))
	}
	health.RegisterRoutes(mux)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	handlers.NewSessionHandler(s.core.coord, s.core.envs, s.logger).RegisterRoutes(mux)
	handlers.NewStreamHandler(s.core.coord, s.cfg.Server.CORSAllowedOrigins, s.logger).RegisterRoutes(mux)
	handlers.NewEnvironmentHandler(s.core.envs, s.logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(s.hotReload, s.logger).RegisterRoutes(mux)

	rateCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, publicPaths, s.logger),
	)
}

// =============================================================================
// 🛑 运行与关闭
// =============================================================================

// Run blocks until ctx ends or a server fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return waitServer(gctx, s.httpManager) })
	if s.metricsManager != nil {
		g.Go(func() error { return waitServer(gctx, s.metricsManager) })
	}
	err := g.Wait()
	s.Shutdown()
	return err
}

// waitServer returns nil when ctx ends and the serve error otherwise.
func waitServer(ctx context.Context, m *server.Manager) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.Errors():
		return err
	}
}

// Shutdown 优雅关闭：先停止接收请求，再停止执行与存储
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.hotReload != nil {
		if err := s.hotReload.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if s.core != nil {
		s.core.close(ctx)
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	s.logger.Info("Graceful shutdown completed")
}
