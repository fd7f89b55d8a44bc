package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/invoice-desk/internal/app"
	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
	"github.com/odyssey-erp/invoice-desk/internal/observability"
	"github.com/odyssey-erp/invoice-desk/internal/platform/cache"
	"github.com/odyssey-erp/invoice-desk/internal/upstream"
	"github.com/odyssey-erp/invoice-desk/jobs"
	"github.com/odyssey-erp/invoice-desk/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pdfClient := report.NewClient(cfg.GotenbergURL)
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	printer := report.NewPrinter(pdfClient, cfg.PrintSpoolDir)
	backend := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout, logger)
	metrics := observability.NewMetrics()
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
	tokens := jobs.NewTokenVault(redisClient, cfg.PrintTokenTTL)
	printJob := jobs.NewPrintJob(backend, tokens, renderer, printer, metrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypePrintInvoice, Handler: printJob.Handle},
		},
		Metrics: jobs.NewRunMetrics(metrics.Registerer()),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			_ = metricsServer.Close()
		}()
	}

	logger.Info("starting print worker", slog.String("spool", printer.Dir()))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
