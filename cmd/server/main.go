package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/access"
	"github.com/pscheid92/deskpulse/internal/adapter/auth"
	"github.com/pscheid92/deskpulse/internal/adapter/httpserver"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/adapter/postgres"
	"github.com/pscheid92/deskpulse/internal/adapter/redis"
	"github.com/pscheid92/deskpulse/internal/adapter/websocket"
	"github.com/pscheid92/deskpulse/internal/platform/config"
	"github.com/pscheid92/deskpulse/internal/platform/logging"
	"github.com/pscheid92/deskpulse/internal/platform/retry"
	"github.com/pscheid92/deskpulse/internal/platform/version"
	"github.com/pscheid92/deskpulse/internal/protocol"
	"github.com/pscheid92/deskpulse/internal/ratelimit"
	"github.com/pscheid92/deskpulse/internal/subscription"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connectAttempts       = 5
	ownershipEvictionTick = time.Minute
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	return cfg
}

// connectPolicy retries startup connections to Redis and Postgres.
func connectPolicy(clock clockwork.Clock, what string) retry.Policy {
	return retry.Policy{
		MaxAttempts: connectAttempts,
		Backoff:     retry.Backoff{Initial: 500 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2, Jitter: 0.2},
		Clock:       clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Connection attempt failed", "dependency", what, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

func alwaysRetry(error) retry.Action { return retry.Retry }

func setupDB(cfg *config.Config, clock clockwork.Clock, m *metrics.PostgresMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := retry.Do(ctx, connectPolicy(clock, "postgres"), alwaysRetry, func() (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.DatabaseMigrate {
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	return pool
}

func setupRedis(cfg *config.Config, clock clockwork.Clock, m *metrics.RedisMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := retry.Do(ctx, connectPolicy(clock, "redis"), alwaysRetry, func() (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, manager *websocket.Manager, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting handshakes first; hijacked sockets are not tracked
		// by the HTTP server and are drained by the manager below.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Error("Connection manager shutdown error", "error", err)
		}

		stopBackground()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, cfg.ServerID)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	reg := metrics.NewRegistry()
	m := metrics.NewSet(reg)

	pool := setupDB(cfg, clock, m.Postgres)
	defer pool.Close()

	redisClient := setupRedis(cfg, clock, m.Redis)
	defer func() { _ = redisClient.Close() }()

	readModel := postgres.NewReadModel(pool)

	ownershipCache := access.NewOwnershipCache(cfg.OwnershipCacheTTL, clock, m.Cache)
	stopEviction := ownershipCache.StartEvictionTimer(ownershipEvictionTick)
	defer stopEviction()
	authorizer := access.NewAuthorizer(readModel, ownershipCache, m.Cache)

	registry := subscription.NewRegistry(authorizer)
	metrics.RegisterSubscriptionGauges(reg, registry.Stats)

	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{
		Limit:           cfg.RateLimit,
		Window:          cfg.RateWindow,
		MaxViolations:   cfg.RateMaxViolations,
		ViolationWindow: cfg.RateViolationWindow,
	}, clock)

	bridge := redis.NewBridge(redisClient, redis.BridgeConfig{
		ServerID:      cfg.ServerID,
		ChannelPrefix: cfg.ChannelPrefix,
	}, registry, clock, m.Bridge)

	tickets := protocol.NewTicketHandler(registry, readModel, bridge)
	jobs := protocol.NewJobHandler(registry, readModel, bridge)
	router := protocol.NewRouter(limiter, clock, tickets, jobs)

	directory := redis.NewDirectory(redisClient, cfg.ChannelPrefix, cfg.ServerID, version.Version, cfg.DirectoryHeartbeat, clock)

	manager := websocket.NewManager(websocket.Config{
		ServerID:          cfg.ServerID,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendQueueSize:     cfg.SendQueueSize,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MaxProtocolErrors: cfg.MaxProtocolErrors,
	}, websocket.ManagerDeps{
		Validator: auth.NewJWTValidator(auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}, clock),
		Router:    router,
		Registry:  registry,
		Limiter:   limiter,
		Directory: directory,
		Clock:     clock,
		Metrics:   m.Connection,
	})
	bridge.Bind(manager)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	go bridge.Listen(bgCtx)
	go directory.Run(bgCtx, manager.Count)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Manager: manager,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{Name: "postgres", Check: pool.Ping},
		},
		Metrics:        m.HTTP,
		MetricsHandler: metrics.Handler(reg),
		Degraded:       bridge.Degraded,
		Clock:          clock,
	})

	done := runGracefulShutdown(cfg, srv, manager, stopBackground)

	slog.Info("Server starting", "port", cfg.Port, "server_id", cfg.ServerID)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
