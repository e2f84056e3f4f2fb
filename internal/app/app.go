// Package app wires configuration, infrastructure connections, and domain
// handlers together into the two runtime modes: api (HTTP server) and worker
// (task engine + health reconciler).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aidenforge/controlplane/internal/audit"
	"github.com/aidenforge/controlplane/internal/auth"
	"github.com/aidenforge/controlplane/internal/config"
	"github.com/aidenforge/controlplane/internal/httpserver"
	"github.com/aidenforge/controlplane/internal/platform"
	"github.com/aidenforge/controlplane/internal/telemetry"
	"github.com/aidenforge/controlplane/internal/version"
	"github.com/aidenforge/controlplane/pkg/agent"
	"github.com/aidenforge/controlplane/pkg/apikey"
	"github.com/aidenforge/controlplane/pkg/fabric"
	"github.com/aidenforge/controlplane/pkg/lifecycle"
	"github.com/aidenforge/controlplane/pkg/reconciler"
	"github.com/aidenforge/controlplane/pkg/rtctl"
	"github.com/aidenforge/controlplane/pkg/runtime"
	"github.com/aidenforge/controlplane/pkg/tasks"
	"github.com/aidenforge/controlplane/pkg/user"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting controlplane",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "controlplane", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildLifecycle constructs the fabric adapter, controller client, and
// lifecycle service shared by both the API (for saga submission) and the
// worker (for saga execution and reconciliation).
func buildLifecycle(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) (*lifecycle.Service, error) {
	adapter, err := fabric.NewAWSAdapter(ctx, cfg.Fabric.Region, cfg.Fabric.AssumeRoleARN)
	if err != nil {
		return nil, fmt.Errorf("initializing cloud fabric adapter: %w", err)
	}

	taskStore := tasks.NewStore(db)
	engine := tasks.NewEngine(taskStore, rdb, logger, cfg.TaskEngineConcurrency,
		telemetry.TaskDuration, telemetry.TasksProcessedTotal)

	svc := &lifecycle.Service{
		Runtimes: runtime.NewStore(db),
		Agents:   agent.NewStore(db),
		Tasks:    taskStore,
		Engine:   engine,
		Fabric:   adapter,
		Ctl:      rtctl.NewClient(),
		Cfg:      cfg.Fabric,
		Pool: lifecycle.PoolConfig{
			IdleSize:  cfg.RuntimeIdlePoolSize,
			Increment: cfg.RuntimePoolIncrement,
		},
		Logger: logger,
		Metrics: lifecycle.Metrics{
			RuntimesCreated:      telemetry.RuntimesCreatedTotal,
			RuntimesDeleted:      telemetry.RuntimesDeletedTotal,
			RuntimesCreateFailed: telemetry.RuntimesCreateFailedTotal,
			AgentsStarted:        telemetry.AgentsStartedTotal,
			HealthchecksFailed:   telemetry.HealthchecksFailedTotal,
		},
	}
	svc.Register()

	return svc, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set SESSION_SECRET in production)")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	userSvc := user.NewService(db, logger)
	apikeySvc := apikey.NewService(db, logger)

	apikeyAuth := &auth.APIKeyAuthenticator{Store: apikeySvc}

	srv := httpserver.NewServer(cfg, httpserver.ServerConfig{
		SessionMgr:       sessionMgr,
		APIKeyAuth:       apikeyAuth,
		DevHeaderEnabled: cfg.AdminDevHeaderEnabled,
	}, logger, db, rdb, metricsReg)

	if cfg.AdminDevHeaderEnabled {
		logger.Warn("X-Admin-Dev header authentication is enabled — this must never run in production")
	}

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)
	loginHandler := auth.NewLoginHandler(sessionMgr, userSvc, rateLimiter, logger)
	srv.Router.Post("/auth/local", loginHandler.HandleLogin)
	srv.Router.Get("/auth/me", loginHandler.HandleMe)

	srv.Router.Get("/status", srv.HandleStatus)
	srv.APIRouter.Get("/status", srv.HandleStatus)

	lifecycleSvc, err := buildLifecycle(ctx, cfg, logger, db, rdb, metricsReg)
	if err != nil {
		return err
	}

	runtimeHandler := runtime.NewHandler(lifecycleSvc.Runtimes, lifecycleSvc, logger, auditWriter)
	srv.APIRouter.Route("/runtimes", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Mount("/", runtimeHandler.Routes())
	})

	agentHandler := agent.NewHandler(lifecycleSvc.Agents, lifecycleSvc, logger, auditWriter)
	srv.APIRouter.Mount("/agents", agentHandler.Routes())

	taskHandler := tasks.NewHandler(lifecycleSvc.Tasks, logger)
	srv.APIRouter.Mount("/tasks", taskHandler.Routes())

	userHandler := user.NewHandler(db, logger, auditWriter)
	srv.APIRouter.Get("/users/me", userHandler.HandleMe)
	srv.APIRouter.Route("/users", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Mount("/", userHandler.Routes())
	})

	apikeyHandler := apikey.NewHandler(db, logger, auditWriter)
	srv.APIRouter.Mount("/api-keys", apikeyHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	logger.Info("worker started")

	lifecycleSvc, err := buildLifecycle(ctx, cfg, logger, db, rdb, metricsReg)
	if err != nil {
		return err
	}

	recon := &reconciler.Reconciler{
		Runtimes:  lifecycleSvc.Runtimes,
		Agents:    lifecycleSvc.Agents,
		Lifecycle: lifecycleSvc,
		Ctl:       lifecycleSvc.Ctl,
		Logger:    logger,
		Metric:    telemetry.HealthchecksFailedTotal,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- lifecycleSvc.Engine.Run(ctx) }()
	go func() { errCh <- recon.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
