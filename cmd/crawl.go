package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yifanzhou/job51-crawler/internal/api"
	"github.com/yifanzhou/job51-crawler/internal/clock/system"
	"github.com/yifanzhou/job51-crawler/internal/config"
	"github.com/yifanzhou/job51-crawler/internal/crawler"
	"github.com/yifanzhou/job51-crawler/internal/dispatcher"
	apifetcher "github.com/yifanzhou/job51-crawler/internal/fetcher/api"
	"github.com/yifanzhou/job51-crawler/internal/logging"
	"github.com/yifanzhou/job51-crawler/internal/mapper"
	"github.com/yifanzhou/job51-crawler/internal/progress"
	"github.com/yifanzhou/job51-crawler/internal/progress/sinks"
	"github.com/yifanzhou/job51-crawler/internal/session"
	"github.com/yifanzhou/job51-crawler/internal/storage/postgres"
)

// newCrawlCmd creates the crawl subcommand, which runs the full task set to
// completion and exits.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run the configured crawl tasks to completion.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			zap.ReplaceGlobals(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runCrawl(ctx, cfg, logger)
		},
	}
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := postgres.NewJobStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMins) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	opsServer := api.NewServer(cfg.Server.Port, registry, logger.Named("ops"))
	opsServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	sess := session.NewManager(session.Config{
		PortalURL: cfg.Session.PortalURL,
		Referer:   cfg.Session.Referer,
		UserAgent: cfg.Session.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		AccountID: cfg.Session.AccountID,
	}, httpClient, logger.Named("session"))

	fetcher := apifetcher.New(apifetcher.Config{
		SearchURL: cfg.Session.SearchURL,
		Timeout:   cfg.HTTPTimeout(),
	}, sess, httpClient, logger.Named("fetch"))

	clk := system.New()
	base, maxBackoff := cfg.BackoffBounds()
	policy := crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, base, maxBackoff)
	minDelay, maxDelay := cfg.DelayRange()
	delayer := crawler.NewPolitenessDelayer(minDelay, maxDelay)
	walker := crawler.NewPageWalker(fetcher, mapper.New(clk), policy, delayer, logger.Named("walker"))

	d := dispatcher.New(walker, store, hub, clk, dispatcher.Config{
		Concurrency:    cfg.Crawl.Concurrency,
		StorageRetries: cfg.Crawl.StorageRetries,
	}, logger.Named("dispatcher"))

	tasks := dispatcher.BuildTasks(cfg.Crawl.Keywords, cfg.Crawl.CityCodes, cfg.Crawl.MaxPages, cfg.Crawl.PageSize)
	logger.Info("starting crawl run",
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", cfg.Crawl.Concurrency))

	summary := d.Run(ctx, tasks)
	logger.Info("crawl run finished",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("tasks_total", summary.TasksTotal),
		zap.Int("tasks_succeeded", summary.TasksSucceeded),
		zap.Int("tasks_failed", summary.TasksFailed),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("records_mapped", summary.RecordsMapped),
		zap.Int("records_dropped", summary.RecordsDropped),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated))

	if summary.TasksFailed > 0 && summary.TasksSucceeded == 0 {
		return fmt.Errorf("all %d tasks failed", summary.TasksFailed)
	}
	return nil
}
