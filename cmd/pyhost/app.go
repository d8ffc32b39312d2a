package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/pyhost/config"
	"github.com/BaSui01/pyhost/environment"
	"github.com/BaSui01/pyhost/execution"
	"github.com/BaSui01/pyhost/internal/cache"
	"github.com/BaSui01/pyhost/internal/database"
	"github.com/BaSui01/pyhost/internal/migration"
	"github.com/BaSui01/pyhost/internal/pool"
	"github.com/BaSui01/pyhost/internal/telemetry"
	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/session"
)

// =============================================================================
// 🧩 核心组件装配（serve 与 run 共用）
// =============================================================================

// core holds the execution stack and the stores behind it.
type core struct {
	runtime  *interpreter.Runtime
	envs     *environment.Manager
	registry *session.Registry
	workers  *pool.GoroutinePool
	coord    *execution.Coordinator

	db     *gorm.DB
	dbPool *database.PoolManager
	cache  *cache.Manager

	logger *zap.Logger
}

// coreOptions carries the optional observers of newCore.
type coreOptions struct {
	recorder   execution.Recorder
	gilObs     interpreter.GILObserver
	dbObserver database.StatsObserver
}

// limitsFrom maps the execution section onto coordinator limits.
func limitsFrom(cfg config.ExecutionConfig) execution.Limits {
	return execution.Limits{
		DefaultTimeout:  cfg.DefaultTimeout,
		CommandTimeout:  cfg.CommandTimeout,
		SessionLockWait: cfg.SessionLockWait,
		CancelGrace:     cfg.CancelGrace,
		MaxOutputLines:  cfg.MaxOutputLines,
	}
}

// newCore wires storage, interpreter and coordinator. On error everything
// opened so far is closed.
func newCore(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts coreOptions) (_ *core, err error) {
	c := &core{logger: logger}
	defer func() {
		if err != nil {
			c.close(context.Background())
		}
	}()

	envStore, err := c.openEnvironmentStore(ctx, cfg.Database, opts.dbObserver)
	if err != nil {
		return nil, err
	}
	sessionStore, err := c.openSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	c.runtime = interpreter.NewRuntime(interpreter.Options{
		MaxSteps: cfg.Interpreter.MaxSteps,
		Logger:   logger,
	})
	if opts.gilObs != nil {
		c.runtime.GIL().SetObserver(opts.gilObs)
	}

	c.envs = environment.NewManager(envStore, c.runtime, environment.Config{
		Root:        cfg.Environment.Root,
		DefaultName: cfg.Environment.DefaultName,
	}, logger)
	if _, err := c.envs.Default(ctx); err != nil {
		return nil, fmt.Errorf("prepare default environment: %w", err)
	}

	c.registry = session.NewRegistry(sessionStore, logger)
	if n, err := c.registry.Restore(ctx); err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("sessions restored", zap.Int("count", n))
	}

	c.workers = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: cfg.Execution.MaxWorkers,
		QueueSize:  cfg.Execution.QueueSize,
		PanicHandler: func(v any) {
			logger.Error("worker panic", zap.Any("panic", v))
		},
	})

	recorder := opts.recorder
	if otelMetrics, err := telemetry.NewExecutionMetrics(telemetry.Meter()); err != nil {
		logger.Warn("otel execution metrics unavailable", zap.Error(err))
	} else {
		recorder = execution.Recorders(recorder, otelMetrics)
	}

	c.coord = execution.NewCoordinator(c.runtime, c.registry, c.envs,
		execution.WithLogger(logger),
		execution.WithLimits(limitsFrom(cfg.Execution)),
		execution.WithPool(c.workers),
		execution.WithRecorder(recorder),
		execution.WithTracer(telemetry.Tracer()),
	)
	return c, nil
}

func (c *core) openEnvironmentStore(ctx context.Context, cfg config.DatabaseConfig, observe database.StatsObserver) (environment.Store, error) {
	if !cfg.Enabled {
		c.logger.Info("database disabled, environments kept in memory")
		return environment.NewMemoryStore(), nil
	}

	if cfg.AutoMigrate {
		if err := migrateUp(ctx, cfg, c.logger); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.dbPool, err = database.NewPoolManager(db, database.PoolConfigFrom(cfg), c.logger)
	if err != nil {
		return nil, err
	}
	if observe != nil {
		c.dbPool.Observe(observe)
	}
	return environment.NewGormStore(db), nil
}

func migrateUp(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (c *core) openSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Redis.Enabled {
		cc := cache.DefaultConfig()
		cc.Addr = cfg.Redis.Addr
		cc.Password = cfg.Redis.Password
		cc.DB = cfg.Redis.DB
		cc.KeyPrefix = cfg.Redis.KeyPrefix
		cc.PoolSize = cfg.Redis.PoolSize
		cc.MinIdleConns = cfg.Redis.MinIdleConns
		cc.TLSEnabled = cfg.Redis.TLS
		m, err := cache.NewManager(cc, c.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.cache = m
	}

	switch cfg.Execution.SessionStore {
	case "redis":
		if c.cache == nil {
			return nil, errors.New("redis session store requires redis.enabled")
		}
		return session.NewRedisStore(c.cache), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// close shuts the coordinator down, then releases pools and connections.
func (c *core) close(ctx context.Context) {
	if c.coord != nil {
		if err := c.coord.Shutdown(ctx); err != nil {
			c.logger.Warn("coordinator shutdown incomplete", zap.Error(err))
		}
	}
	if c.workers != nil {
		c.workers.Close()
	}
	if c.dbPool != nil {
		if err := c.dbPool.Close(); err != nil {
			c.logger.Warn("database close failed", zap.Error(err))
		}
	} else if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}
