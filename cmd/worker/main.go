package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/engine"
	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/eventstore"
	"github.com/gorax/gorax/internal/expression"
	"github.com/gorax/gorax/internal/jobqueue"
	"github.com/gorax/gorax/internal/schedule"
	"github.com/gorax/gorax/internal/strategy"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/worker"
	"github.com/gorax/gorax/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	tracingCleanup, err := tracing.InitGlobalTracer(context.Background(), &cfg.Observability)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracingCleanup()

	if cfg.Observability.TracingEnabled {
		slog.Info("distributed tracing enabled",
			"endpoint", cfg.Observability.TracingEndpoint,
			"service_name", cfg.Observability.TracingServiceName,
			"sample_rate", cfg.Observability.TracingSampleRate,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	queue, err := openJobQueue(cfg)
	if err != nil {
		slog.Error("failed to initialize job queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	store := eventstore.New(db)
	bus := eventbus.New(store, logger)

	workflowRepo := workflow.NewRepository(db)
	workflowService := workflow.NewService(workflowRepo, logger)

	eng := engine.New(engine.Dependencies{
		Queue:     queue,
		Bus:       bus,
		Registry:  strategy.NewDefaultRegistry(strategy.DefaultDependencies(logger)),
		Evaluator: expression.NewEvaluator(),
		Repo:      engine.NewRepository(db),
		Logger:    logger,
		Backoff:   engine.DefaultBackoffPolicy(),
	})

	scheduleRepo := schedule.NewRepository(db)
	scheduleService := schedule.NewService(scheduleRepo)
	scheduler := schedule.NewScheduler(scheduleService, workflowService, eng, logger)

	w := worker.New(eng, queue, cfg.Worker.Lanes, cfg.Worker.ConcurrencyPerLane, logger)

	healthServer := worker.NewHealthServer(w, cfg.Worker.HealthPort)
	go func() {
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("starting workflow scheduler")
		scheduler.Start(ctx)
	}()

	go func() {
		slog.Info("starting workflow worker", "lanes", cfg.Worker.Lanes, "concurrency_per_lane", cfg.Worker.ConcurrencyPerLane)
		if err := w.Start(ctx); err != nil {
			slog.Error("worker error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker and scheduler...")
	cancel()
	scheduler.Stop()
	w.Wait()

	slog.Info("worker and scheduler stopped")
}

// openJobQueue constructs the Job Queue backend selected by
// JOBQUEUE_BACKEND, mirroring the worker and API processes so both sides
// of a lane agree on its wiring.
func openJobQueue(cfg *config.Config) (jobqueue.Queue, error) {
	switch cfg.JobQueue.Backend {
	case "", "memory":
		return jobqueue.NewMemoryQueue(cfg.JobQueue.MemoryCapacity), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return jobqueue.NewRedisQueue(client, cfg.JobQueue.RedisKeyPrefix), nil
	case "kafka":
		return jobqueue.NewKafkaQueue(cfg.JobQueue.KafkaBrokers, cfg.JobQueue.KafkaGroupID), nil
	case "rabbitmq":
		return jobqueue.DialRabbitMQ(cfg.JobQueue.RabbitMQURL)
	default:
		return nil, fmt.Errorf("unknown JOBQUEUE_BACKEND %q", cfg.JobQueue.Backend)
	}
}
