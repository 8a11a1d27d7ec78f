package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorax/gorax/internal/api"
	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/tracing"
)

// @title Gorax Workflow Orchestration API
// @version 1.0
// @description REST API for Gorax, a multi-tenant workflow orchestration engine: workflow CRUD, manual and scheduled execution, provider webhook ingress, and execution monitoring.
// @description
// @description ## Authentication
// @description All API endpoints (except /health, /ready, and the provider webhook ingress routes) require authentication.
// @description In development mode, use the X-User-ID header. In production, use Ory Kratos session cookies.
// @description
// @description ## Multi-tenancy
// @description Authenticated endpoints resolve a tenant context per internal/config.TenantConfig's resolution strategy; multi-tenant deployments expect an X-Tenant-ID header or a tenant-scoped user.

// @contact.name Gorax
// @contact.url https://github.com/gorax/gorax

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey TenantID
// @in header
// @name X-Tenant-ID
// @description Tenant identifier for multi-tenant isolation

// @securityDefinitions.apikey UserID
// @in header
// @name X-User-ID
// @description User identifier (development mode only)

// @securityDefinitions.apikey SessionCookie
// @in cookie
// @name ory_kratos_session
// @description Ory Kratos session cookie (production mode)

// @tag.name Health
// @tag.description Health check and readiness endpoints

// @tag.name Workflows
// @tag.description Workflow CRUD, publishing, and dry-run validation

// @tag.name Executions
// @tag.description Run start/pause/resume/cancel and run history

// @tag.name Webhooks
// @tag.description Provider-bound webhook endpoint management and ingress

// @tag.name Schedules
// @tag.description Cron-triggered workflow runs

// @tag.name Tenants
// @tag.description Tenant and retention policy administration

// @tag.name Metrics
// @tag.description Execution metrics and analytics

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	if cfg.Server.Env == "production" {
		if err := config.ValidateForProduction(cfg); err != nil {
			slog.Error("production configuration validation failed", "error", err)
			os.Exit(1)
		}
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

	app, err := api.NewApp(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
