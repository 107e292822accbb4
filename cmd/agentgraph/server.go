package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/engine"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/server"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/registry"
)

// Server assembles the engine, stores, and HTTP surface.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	manager   *server.Manager
	providers *telemetry.Providers
	db        *gorm.DB
	redis     *redis.Client
}

// NewServer wires all components from the configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	collector := metrics.NewCollector(cfg.Engine.MetricsNamespace, logger)

	var (
		checkpoints checkpoint.Store
		snapshots   engine.SnapshotStore
		checks      []api.HealthCheck
	)
	var db *gorm.DB
	switch cfg.Database.Driver {
	case "sqlite":
		var err error
		db, err = database.Open(cfg.Database.DSN, database.DefaultPoolConfig(), logger)
		if err != nil {
			return nil, err
		}
		checkpoints, err = checkpoint.NewGormStore(db)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		snapshots, err = engine.NewGormSnapshotStore(db)
		if err != nil {
			return nil, fmt.Errorf("init snapshot store: %w", err)
		}
		checks = append(checks, handlers.HealthCheckFunc{
			CheckName: "database",
			Fn: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		})
	case "memory":
		checkpoints = checkpoint.NewMemoryStore()
		snapshots = engine.NewMemorySnapshotStore()
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}

	var (
		participants registry.Registry
		redisClient  *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		participants = registry.NewRedisRegistry(redisClient, cfg.Redis.KeyPrefix)
		checks = append(checks, handlers.HealthCheckFunc{
			CheckName: "redis",
			Fn: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	} else {
		participants = registry.NewMemoryRegistry()
	}

	var invoker engine.AgentInvoker = engine.EchoInvoker{}
	if cfg.Engine.AgentRPS > 0 {
		invoker = engine.NewRateLimitedInvoker(invoker, cfg.Engine.AgentRPS, cfg.Engine.AgentBurst)
	}

	eng := engine.NewEngine(
		engine.WithLogger(logger),
		engine.WithInvoker(invoker),
		engine.WithCheckpointStore(checkpoints),
		engine.WithSnapshotStore(snapshots),
		engine.WithMetrics(collector),
		engine.WithExecutionTimeout(cfg.Engine.ExecutionTimeout),
	)

	handler := api.NewRouter(api.Deps{
		Engine:       eng,
		Graphs:       handlers.NewGraphStore(),
		Checkpoints:  checkpoints,
		Participants: participants,
		Version:      Version,
		Logger:       logger,
		Metrics:      collector,
		Extra:        checks,
		MetricsPage:  promhttp.Handler(),
	})

	manager := server.NewManager(handler, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  cfg.Server.MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		providers: providers,
		db:        db,
		redis:     redisClient,
	}, nil
}

// Start begins serving HTTP or HTTPS depending on TLS configuration.
func (s *Server) Start() error {
	if s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != "" {
		return s.manager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.manager.Start()
}

// WaitForShutdown blocks until the server stops, then releases resources.
func (s *Server) WaitForShutdown() {
	s.manager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Warn("database close failed", zap.Error(err))
		}
	}
}
