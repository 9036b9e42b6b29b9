package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/infra/config"
	"github.com/arklim/dispense-auth/internal/infra/database"
	"github.com/arklim/dispense-auth/internal/infra/directory"
	kafkainfra "github.com/arklim/dispense-auth/internal/infra/kafka"
	"github.com/arklim/dispense-auth/internal/infra/logger"
	redisinfra "github.com/arklim/dispense-auth/internal/infra/redis"
	"github.com/arklim/dispense-auth/internal/infra/security"
	"github.com/arklim/dispense-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/dispense-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/dispense-auth/internal/repository/redis"
	"github.com/arklim/dispense-auth/internal/transport/http/middleware"
	"github.com/arklim/dispense-auth/internal/transport/http/routes"
	"github.com/arklim/dispense-auth/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
	producer    *kafkainfra.Producer
	tracer      *telemetry.TracerProvider
	maintenance *Maintenance
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	application := &Application{cfg: cfg, logger: log}
	if err := application.init(ctx); err != nil {
		application.close(context.Background())
		return nil, err
	}
	return application, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		a.tracer = tracer
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	if cfg.Postgres.AutoMigrate {
		if err := database.RunMigrations(pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	repos := postgresrepo.NewRepositories(pool)
	events, guard := a.attemptStores(repos)

	hashers, err := newHasherRegistry(cfg)
	if err != nil {
		return fmt.Errorf("init password hashers: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics(telemetry.AuthMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	publisher := a.eventPublisher()

	var secrets port.SecretDecrypter
	if cfg.Directory.SecretKey != "" {
		box, err := security.NewSecretBox(cfg.Directory.SecretKey)
		if err != nil {
			return fmt.Errorf("init secret box: %w", err)
		}
		secrets = box
	}
	clients := directory.NewClientFactory(directory.FactoryConfig{
		Timeout:         cfg.Directory.Timeout,
		InsecureSkipTLS: cfg.Directory.InsecureSkipTLS,
	}, secrets, log)

	policies := usecase.NewPolicyCache(cfg.Directory.PolicyCacheTTL, authMetrics, nil)

	local := usecase.NewLocalAuthenticator(authSettings(cfg), usecase.LocalDeps{
		Credentials: repos.Credentials,
		Events:      events,
		Guard:       guard,
		Admin:       repos.Accounts,
		Hashers:     hashers,
		Validator:   security.NewPolicyValidator(),
		Publisher:   publisher,
		Logger:      log,
	})

	mode := domain.NewDisconnectedPolicy(domain.ParseDisconnectedMode(cfg.Directory.DisconnectedMode))
	factory := usecase.NewAuthenticatorFactory(local, mode, usecase.FactoryDeps{
		Domains:     repos.Domains,
		Clients:     clients,
		Credentials: repos.Credentials,
		Events:      events,
		Hashers:     hashers,
		Policies:    policies,
		Metrics:     authMetrics,
		Logger:      log,
	})

	authService := usecase.NewAuthService(repos.Accounts, repos.Accounts, events, factory, publisher, authMetrics, log, nil)

	maintenance, err := NewMaintenance(MaintenanceConfig{
		Retention:     cfg.Events.Retention,
		PruneSchedule: cfg.Events.PruneSchedule,
		EvictSchedule: cfg.Events.EvictSchedule,
	}, authService, policies, log)
	if err != nil {
		return fmt.Errorf("init maintenance: %w", err)
	}
	a.maintenance = maintenance

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log).WithMetrics(httpMetrics),
		Metrics:     httpMetrics,
		Auth:        authService,
		Database:    pool,
		Cache:       redisClient,
	})

	log.Info("authentication backends configured",
		zap.String("event_store", cfg.Events.Store),
		zap.String("attempt_guard", cfg.Auth.Guard),
		zap.String("current_algorithm", cfg.Auth.CurrentAlgorithm),
		zap.String("disconnected_mode", string(mode.Mode())),
	)
	return nil
}

// attemptStores picks the event log and the per-account guard.
func (a *Application) attemptStores(repos *postgresrepo.Repositories) (port.EventLog, port.AttemptGuard) {
	var (
		events port.EventLog     = repos.Events
		guard  port.AttemptGuard = repos.Guard
	)
	if a.cfg.Events.Store == "redis" {
		events = redisrepo.NewEventLogRepository(a.redis.Client(), redisrepo.EventLogConfig{
			KeyPrefix: a.cfg.Redis.EventPrefix,
			TTL:       a.cfg.Redis.EventTTL,
		})
	}
	if a.cfg.Auth.Guard == "redis" {
		guard = redisrepo.NewAttemptGuard(a.redis.Client(), redisrepo.GuardConfig{
			KeyPrefix:   a.cfg.Redis.GuardPrefix,
			TTL:         a.cfg.Redis.GuardTTL,
			WaitTimeout: a.cfg.Redis.GuardWaitTimeout,
		})
	}
	return events, guard
}

func (a *Application) eventPublisher() port.EventPublisher {
	if !a.cfg.Kafka.Enabled || len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func newHasherRegistry(cfg *config.AppConfig) (*security.HasherRegistry, error) {
	argon, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	return security.NewHasherRegistry(
		domain.HashAlgorithm(cfg.Auth.CurrentAlgorithm),
		argon,
		security.NewBcryptHasher(cfg.Bcrypt.Cost),
		security.NewSHA256Hasher(),
	)
}

func authSettings(cfg *config.AppConfig) domain.AuthSettings {
	window := cfg.Auth.LockoutWindow
	retries := cfg.Auth.MaxRetryAttempts
	tempDuration := cfg.Auth.TemporaryPasswordDuration

	maxAge := domain.UnboundedAge()
	if cfg.Auth.Policy.MaxAge > 0 {
		maxAge = domain.BoundedAge(cfg.Auth.Policy.MaxAge)
	}

	return domain.AuthSettings{
		LockoutWindow:                     &window,
		MaxRetryAttempts:                  &retries,
		TemporaryPasswordDuration:         &tempDuration,
		ExemptNewAccountsFromTempDuration: cfg.Auth.ExemptNewAccountsFromTempDuration,
		LocalPolicy: domain.PasswordPolicy{
			MinLength:         cfg.Auth.Policy.MinLength,
			RequireComplexity: cfg.Auth.Policy.RequireComplexity,
			MinCharClasses:    cfg.Auth.Policy.MinCharClasses,
			MinStrengthScore:  cfg.Auth.Policy.MinStrengthScore,
			HistoryLength:     cfg.Auth.Policy.HistoryLength,
			MaxAge:            maxAge,
			LockoutThreshold:  retries,
		},
		CurrentAlgorithm: domain.HashAlgorithm(cfg.Auth.CurrentAlgorithm),
		HistoryRetention: cfg.Auth.HistoryRetention,
	}
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting dispense auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.maintenance.Start()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.maintenance.Stop(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
