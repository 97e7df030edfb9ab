// Package main provides the entry point for the care-access authorization
// server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/careaccess/go-core/internal/api/rest"
	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/cache"
	"github.com/careaccess/go-core/internal/config"
	"github.com/careaccess/go-core/internal/db"
	"github.com/careaccess/go-core/internal/delegation"
	"github.com/careaccess/go-core/internal/engine"
	"github.com/careaccess/go-core/internal/metrics"
	"github.com/careaccess/go-core/internal/notify"
	"github.com/careaccess/go-core/internal/override"
	"github.com/careaccess/go-core/internal/ratelimit"
	"github.com/careaccess/go-core/internal/repository"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to the YAML configuration file")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("careaccess-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting care-access authorization server",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port))

	// Repository: Postgres when configured, in-memory otherwise
	repo, sqlDB, err := buildRepository(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize repository", zap.Error(err))
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	// Decision cache: tier 1 always, tier 2 when Redis is configured
	var redisCache *cache.RedisCache
	var limiterStore ratelimit.Store
	if cfg.Redis.Enabled {
		redisCfg, err := redisCacheConfig(cfg.Redis)
		if err != nil {
			logger.Fatal("invalid redis address", zap.Error(err))
		}
		redisCache, err = cache.NewRedisCache(redisCfg)
		if err != nil {
			logger.Fatal("failed to connect decision cache tier 2", zap.Error(err))
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiterStore = ratelimit.NewRedisStore(client, cfg.RateLimit.KeyPrefix)
	}

	decisionCache, err := cache.NewDecisionCache(&cache.Config{
		Capacity:    cfg.Cache.Capacity,
		TTL:         cfg.Cache.TTL,
		TouchOnRead: cfg.Cache.TouchOnRead,
	}, redisCache, logger)
	if err != nil {
		logger.Fatal("failed to create decision cache", zap.Error(err))
	}
	defer decisionCache.Close()

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, limiterStore, ratelimit.NewLocalStore(), logger)
	if err != nil {
		logger.Fatal("failed to create rate limiter", zap.Error(err))
	}

	var m metrics.Metrics = metrics.NewNoOpMetrics()
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}
	auditor, err := audit.NewLogger(&audit.Config{
		Enabled:        cfg.Audit.Enabled,
		Type:           cfg.Audit.Type,
		FilePath:       cfg.Audit.FilePath,
		FileMaxSize:    cfg.Audit.FileMaxSize,
		FileMaxAge:     cfg.Audit.FileMaxAge,
		FileMaxBackups: cfg.Audit.FileMaxBackups,
		BufferSize:     cfg.Audit.BufferSize,
	})
	if err != nil {
		logger.Fatal("failed to create audit logger", zap.Error(err))
	}
	defer auditor.Close()

	limiter.SetViolationHandler(func(subject, resourceClass, ruleID string, violations, backoffLevel int) {
		m.RecordRateLimitViolation(ruleID, backoffLevel)
		auditor.Record(audit.EventTypeRateLimitViolation, audit.CategorySecurity,
			"rate limit violation", audit.Fields{
				Actor:    subject,
				Target:   resourceClass,
				Severity: audit.SeverityWarning,
				Data: map[string]interface{}{
					"rule":          ruleID,
					"violations":    violations,
					"backoff_level": backoffLevel,
				},
			})
	})

	dispatcher := notify.NewDispatcher(logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	eng := engine.New(engine.DefaultConfig(), repo, decisionCache, limiter, auditor, m, logger)

	isAdmin := func(ctx context.Context, subject string) bool {
		return eng.AuthorizeAdminOperation(ctx, subject, subject).Allowed
	}
	delegations := delegation.NewManager(repo, auditor, dispatcher, isAdmin, logger)
	overrides := override.NewManager(repo, nil, auditor, dispatcher, logger)

	srv, err := rest.New(rest.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Version:      Version,
	}, eng, delegations, overrides, m, logger)
	if err != nil {
		logger.Fatal("failed to create http server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload rate limit rules on config file edits
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) error {
			return limiter.UpdateConfig(next.RateLimit)
		}, logger)
		if err != nil {
			logger.Fatal("failed to create config watcher", zap.Error(err))
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	// Expiry sweeps keep delegation and override state converging with
	// their validity windows even when nothing reads them.
	go runSweeper(ctx, delegations, overrides, logger)

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown incomplete", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// buildRepository picks Postgres when a database URL is configured and runs
// pending migrations, falling back to the in-memory repository otherwise.
func buildRepository(cfg *config.Config, logger *zap.Logger) (repository.Repository, *sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Info("using in-memory repository")
		return repository.NewMemoryRepository(), nil, nil
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.Database.Migrate {
		runner, err := db.NewMigrationRunner(sqlDB)
		if err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("create migration runner: %w", err)
		}
		if err := runner.Up(); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo, err := repository.NewPostgresRepository(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	logger.Info("using postgres repository")
	return repo, sqlDB, nil
}

func redisCacheConfig(rc config.RedisConfig) (*cache.RedisConfig, error) {
	host, portStr, err := net.SplitHostPort(rc.Address)
	if err != nil {
		return nil, fmt.Errorf("redis address %q: %w", rc.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port %q: %w", portStr, err)
	}

	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Host = host
	redisCfg.Port = port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	return redisCfg, nil
}

// runSweeper expires lapsed delegations and overrides once a minute
func runSweeper(ctx context.Context, delegations *delegation.Manager, overrides *override.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := delegations.SweepExpired(ctx); err != nil {
				logger.Warn("delegation sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("delegations expired", zap.Int("count", n))
			}
			if n, err := overrides.SweepExpired(ctx); err != nil {
				logger.Warn("override sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("overrides expired", zap.Int("count", n))
			}
		}
	}
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
