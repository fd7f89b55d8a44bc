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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/invoice-desk/cmd/invoicedesk/cli"
	"github.com/odyssey-erp/invoice-desk/internal/app"
	"github.com/odyssey-erp/invoice-desk/internal/drafts"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/invoicing"
	"github.com/odyssey-erp/invoice-desk/internal/observability"
	"github.com/odyssey-erp/invoice-desk/internal/platform/cache"
	"github.com/odyssey-erp/invoice-desk/internal/shared"
	"github.com/odyssey-erp/invoice-desk/internal/upstream"
	"github.com/odyssey-erp/invoice-desk/jobs"
	"github.com/odyssey-erp/invoice-desk/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "invoicedesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	renderCfg, err := cfg.RenderConfig()
	if err != nil {
		logger.Error("print settings", slog.Any("error", err))
		os.Exit(1)
	}
	renderer, err := render.NewRenderer(renderCfg)
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	reportClient := report.NewClient(cfg.GotenbergURL)
	reportHandler := report.NewHandler(reportClient, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts, jobs.NewTokenVault(redisClient, cfg.PrintTokenTTL))
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	service := invoicing.NewService(invoicing.ServiceConfig{
		Backend:  upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout, logger),
		Drafts:   drafts.NewStore(redisClient, cfg.DraftTTL),
		Renderer: renderer,
		PDF:      reportClient,
		Queue:    queue,
		Guard:    shared.NewIdempotencyStore(redisClient, cfg.SubmitLockTTL),
		Metrics:  metrics,
		Logger:   logger,
	})
	deskHandler := invoicing.NewHandler(logger, service, sessionManager, csrfManager)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		DeskHandler:    deskHandler,
		ReportHandler:  reportHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("upstream", cfg.UpstreamURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobs serves "jobs stats", "jobs failed" and "jobs reprint <kind> <id>".
// The reprint token is read from INVOICEDESK_API_TOKEN.
func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: invoicedesk jobs stats|failed|reprint <kind> <id>")
	}
	ops, err := cli.NewJobsCLI(ctx, cfg.RedisAddr, cfg.PrintTokenTTL)
	if err != nil {
		return err
	}
	defer func() {
		_ = ops.Close()
	}()

	switch args[0] {
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d completed=%d archived=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Completed, stats.Archived)
	case "failed":
		tasks, err := ops.ListFailed(ctx, 20)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s %s %s\n", task.ID, task.Type, task.LastErr)
		}
	case "reprint":
		if len(args) != 3 {
			return fmt.Errorf("usage: invoicedesk jobs reprint <kind> <id>")
		}
		payload, err := cli.ParseReprint(args[1], args[2], os.Getenv("INVOICEDESK_API_TOKEN"))
		if err != nil {
			return err
		}
		id, err := ops.Reprint(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Println(id)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
