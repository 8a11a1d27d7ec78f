package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gorax/gorax/internal/api/handlers"
	apiMiddleware "github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/engine"
	"github.com/gorax/gorax/internal/errortracking"
	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/eventstore"
	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/jobqueue"
	"github.com/gorax/gorax/internal/metrics"
	"github.com/gorax/gorax/internal/retention"
	"github.com/gorax/gorax/internal/schedule"
	"github.com/gorax/gorax/internal/strategy"
	"github.com/gorax/gorax/internal/tenant"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/webhook"
	"github.com/gorax/gorax/internal/webhookadapter"
	"github.com/gorax/gorax/internal/workflow"
)

// App holds application dependencies
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	redis  *redis.Client
	queue  jobqueue.Queue
	router *chi.Mux

	errorTracker *errortracking.Tracker

	metrics          *metrics.Metrics
	metricsRegistry  *prometheus.Registry
	dbStatsCollector *metrics.DBStatsCollector
	queueCollector   *metrics.Collector
	metricsStopCtx   context.Context
	metricsStopFunc  context.CancelFunc

	tenantService   *tenant.Service
	workflowService *workflow.Service
	webhookService  *webhook.Service
	scheduleService *schedule.Service
	engine          *engine.Engine

	retentionScheduler *retention.Scheduler

	healthHandler    *handlers.HealthHandler
	workflowHandler  *handlers.WorkflowHandler
	webhookHandler   *handlers.WebhookHandler
	tenantHandler    *handlers.TenantHandler
	scheduleHandler  *handlers.ScheduleHandler
	executionHandler *handlers.ExecutionHandler
	metricsHandler   *handlers.MetricsHandler
	retentionHandler *handlers.RetentionHandler

	quotaChecker *apiMiddleware.QuotaChecker
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	app.db = db

	app.metrics = metrics.NewMetrics()
	app.metricsRegistry = prometheus.NewRegistry()
	if err := app.metrics.Register(app.metricsRegistry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	logger.Info("metrics initialized")

	app.metricsStopCtx, app.metricsStopFunc = context.WithCancel(context.Background())
	app.dbStatsCollector = metrics.NewDBStatsCollector(app.metrics, db.DB, "main", logger)
	go app.dbStatsCollector.Start(app.metricsStopCtx, 15*time.Second)

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	errorTracker, err := errortracking.Initialize(cfg.Observability)
	if err != nil {
		logger.Warn("failed to initialize Sentry", "error", err)
	}
	app.errorTracker = errorTracker

	queue, err := openJobQueue(cfg, app.redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job queue: %w", err)
	}
	app.queue = queue

	app.queueCollector = metrics.NewCollector(app.metrics, queue, cfg.Worker.Lanes, logger)
	go app.queueCollector.Start(app.metricsStopCtx, 15*time.Second)

	store := eventstore.New(db)
	bus := eventbus.New(store, logger)

	tenantRepo := tenant.NewRepository(db)
	workflowRepo := workflow.NewRepository(db)
	webhookRepo := webhook.NewRepository(db)
	scheduleRepo := schedule.NewRepository(db)

	app.tenantService = tenant.NewService(tenantRepo, logger)
	app.workflowService = workflow.NewService(workflowRepo, logger)
	app.scheduleService = schedule.NewService(scheduleRepo)

	app.engine = engine.New(engine.Dependencies{
		Queue:     queue,
		Bus:       bus,
		Registry:  strategy.NewDefaultRegistry(strategy.DefaultDependencies(logger)),
		Evaluator: expression.NewEvaluator(),
		Repo:      engine.NewRepository(db),
		Logger:    logger,
		Backoff:   engine.DefaultBackoffPolicy(),
	})

	app.webhookService = webhook.NewService(webhookRepo, webhookadapter.NewRegistry(), app.workflowService, app.engine, store, logger)

	scheduler := schedule.NewScheduler(app.scheduleService, app.workflowService, app.engine, logger)
	go func() {
		logger.Info("starting workflow scheduler")
		scheduler.Start(app.metricsStopCtx)
	}()

	retentionRepo := retention.NewRepository(db)
	retentionConfig := retention.Config{
		DefaultRetentionDays: cfg.Retention.DefaultRetentionDays,
		BatchSize:            cfg.Retention.BatchSize,
		EnableAuditLog:       cfg.Retention.EnableAuditLog,
	}
	retentionService := retention.NewService(retentionRepo, logger, retentionConfig)
	if cfg.Retention.Enabled {
		interval, err := time.ParseDuration(cfg.Retention.RunInterval)
		if err != nil {
			interval = 24 * time.Hour
		}
		app.retentionScheduler = retention.NewScheduler(retentionService, logger, interval)
		if err := app.retentionScheduler.Start(app.metricsStopCtx); err != nil {
			logger.Warn("failed to start retention scheduler", "error", err)
		}
	}

	app.healthHandler = handlers.NewHealthHandler(db, app.redis)
	app.workflowHandler = handlers.NewWorkflowHandler(app.workflowService, logger)
	app.webhookHandler = handlers.NewWebhookHandler(app.webhookService, logger)
	app.tenantHandler = handlers.NewTenantHandler(app.tenantService, logger)
	app.scheduleHandler = handlers.NewScheduleHandler(app.scheduleService, logger)
	app.executionHandler = handlers.NewExecutionHandler(app.workflowService, app.engine, engine.NewRepository(db), logger)
	app.metricsHandler = handlers.NewMetricsHandler(workflowRepo)
	app.retentionHandler = handlers.NewRetentionHandler(retentionService, retentionRepo, logger)

	app.quotaChecker = apiMiddleware.NewQuotaChecker(app.tenantService, app.redis, logger)

	app.setupRouter()

	return app, nil
}

// openJobQueue constructs the Job Queue backend selected by
// JOBQUEUE_BACKEND, sharing the Redis client the rest of the API already
// opened when that backend is selected.
func openJobQueue(cfg *config.Config, redisClient *redis.Client) (jobqueue.Queue, error) {
	switch cfg.JobQueue.Backend {
	case "", "memory":
		return jobqueue.NewMemoryQueue(cfg.JobQueue.MemoryCapacity), nil
	case "redis":
		return jobqueue.NewRedisQueue(redisClient, cfg.JobQueue.RedisKeyPrefix), nil
	case "kafka":
		return jobqueue.NewKafkaQueue(cfg.JobQueue.KafkaBrokers, cfg.JobQueue.KafkaGroupID), nil
	case "rabbitmq":
		return jobqueue.DialRabbitMQ(cfg.JobQueue.RabbitMQURL)
	default:
		return nil, fmt.Errorf("unknown JOBQUEUE_BACKEND %q", cfg.JobQueue.Backend)
	}
}

// Router returns the HTTP router
func (a *App) Router() http.Handler {
	return a.router
}

// Close cleans up application resources
func (a *App) Close() error {
	if a.metricsStopFunc != nil {
		a.metricsStopFunc()
	}
	if a.dbStatsCollector != nil {
		a.dbStatsCollector.Stop()
	}
	if a.queueCollector != nil {
		a.queueCollector.Stop()
	}
	if a.retentionScheduler != nil {
		a.retentionScheduler.Stop()
	}
	if a.errorTracker != nil {
		a.errorTracker.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	return nil
}

func (a *App) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.StructuredLogger(a.logger))

	securityHeadersConfig := apiMiddleware.SecurityHeadersConfig{
		EnableHSTS:    a.config.SecurityHeader.EnableHSTS,
		HSTSMaxAge:    a.config.SecurityHeader.HSTSMaxAge,
		CSPDirectives: a.config.SecurityHeader.CSPDirectives,
		FrameOptions:  a.config.SecurityHeader.FrameOptions,
	}
	r.Use(apiMiddleware.SecurityHeaders(securityHeadersConfig))

	if a.config.Observability.TracingEnabled {
		r.Use(tracing.HTTPMiddleware())
	}

	if a.errorTracker != nil {
		r.Use(apiMiddleware.SentryMiddleware(a.errorTracker))
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	corsMiddleware, err := apiMiddleware.NewCORSMiddleware(a.config.CORS, a.config.Server.Env)
	if err != nil {
		a.logger.Error("failed to create CORS middleware", "error", err)
	} else {
		r.Use(corsMiddleware)
	}

	// Health and metrics endpoints (no auth required)
	r.Get("/health", a.healthHandler.Health)
	r.Get("/ready", a.healthHandler.Ready)
	if a.config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.metricsRegistry, promhttp.HandlerOpts{}))
	}

	// Provider webhook ingress (public, provider-signature authenticated).
	// GET handles a provider's one-shot verification handshake (Meta),
	// POST handles deliveries.
	r.Get("/webhooks/{endpointID}", a.webhookHandler.Ingest)
	r.Post("/webhooks/{endpointID}", a.webhookHandler.Ingest)

	r.Route("/api/v1", func(r chi.Router) {
		if a.config.Server.Env == "development" {
			r.Use(apiMiddleware.DevAuth())
		} else {
			r.Use(apiMiddleware.KratosAuth(a.config.Kratos))
			// Kratos sessions ride on a cookie, so cookie-authenticated
			// mutations need CSRF protection; header/token auth in dev mode
			// does not.
			r.Use(apiMiddleware.NewCSRFProtection(apiMiddleware.DefaultCSRFConfig()).Middleware())
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(apiMiddleware.RequireAdmin())

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/{tenantID}/retention", a.retentionHandler.AdminGetPolicy)
				r.Put("/{tenantID}/retention", a.retentionHandler.AdminUpdatePolicy)
				r.Post("/{tenantID}/retention/cleanup", a.retentionHandler.AdminTriggerCleanup)
			})
			r.Post("/retention/cleanup-all", a.retentionHandler.AdminTriggerAllTenantsCleanup)
		})

		r.Group(func(r chi.Router) {
			tenantMiddlewareCfg := apiMiddleware.TenantMiddlewareConfig{
				TenantConfig: a.config.Tenant,
			}
			r.Use(apiMiddleware.TenantContextWithConfig(a.tenantService, tenantMiddlewareCfg))
			r.Use(a.quotaChecker.CheckQuotas())

			r.Route("/tenant", func(r chi.Router) {
				r.Get("/info", a.tenantHandler.GetCurrentTenant)
				r.Get("/settings", a.tenantHandler.GetTenantSettings)
				r.Get("/quotas", a.tenantHandler.GetTenantQuotas)
				r.Get("/retention", a.retentionHandler.GetPolicy)
				r.Put("/retention", a.retentionHandler.UpdatePolicy)
				r.Post("/retention/cleanup", a.retentionHandler.TriggerCleanup)
			})

			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", a.workflowHandler.List)
				r.Post("/", a.workflowHandler.Create)
				r.Get("/{workflowID}", a.workflowHandler.Get)
				r.Put("/{workflowID}", a.workflowHandler.Update)
				r.Post("/{workflowID}/publish", a.workflowHandler.Publish)
				r.Post("/{workflowID}/dry-run", a.workflowHandler.DryRun)
				r.Post("/{workflowID}/execute", a.executionHandler.Start)

				r.Route("/{workflowID}/schedules", func(r chi.Router) {
					r.Get("/", a.scheduleHandler.List)
					r.Post("/", a.scheduleHandler.Create)
				})

				r.Route("/{workflowID}/webhooks", func(r chi.Router) {
					r.Get("/", a.webhookHandler.List)
					r.Post("/", a.webhookHandler.Create)
					r.Delete("/{endpointID}", a.webhookHandler.Delete)
				})
			})

			r.Route("/executions", func(r chi.Router) {
				r.Get("/", a.executionHandler.List)
				r.Get("/{runID}", a.executionHandler.Get)
				r.Post("/{runID}/pause", a.executionHandler.Pause)
				r.Post("/{runID}/resume", a.executionHandler.Resume)
				r.Post("/{runID}/cancel", a.executionHandler.Cancel)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/{scheduleID}", a.scheduleHandler.Get)
				r.Post("/{scheduleID}/pause", a.scheduleHandler.Pause)
				r.Post("/{scheduleID}/resume", a.scheduleHandler.Resume)
				r.Delete("/{scheduleID}", a.scheduleHandler.Delete)
			})

			r.Route("/metrics", func(r chi.Router) {
				r.Get("/trends", a.metricsHandler.GetExecutionTrends)
				r.Get("/duration", a.metricsHandler.GetDurationStats)
				r.Get("/failures", a.metricsHandler.GetTopFailures)
				r.Get("/trigger-breakdown", a.metricsHandler.GetTriggerBreakdown)
			})
		})
	})

	a.router = r
}
