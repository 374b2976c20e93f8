package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/adapter/postgres"
	"github.com/user/autoria-crawler/internal/delivery/http/handler"
	"github.com/user/autoria-crawler/internal/delivery/http/router"
	"github.com/user/autoria-crawler/internal/scheduler"
	"github.com/user/autoria-crawler/internal/supervisor"
	"github.com/user/autoria-crawler/internal/usecase"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the daily scheduler",
		Long: `Serve exposes the control API on SERVER_PORT: crawl start/stop/status, run
logs, backups, scheduler control and read-only listing queries. The crawl runs
as a child "autoria crawl" process.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	cmd.Flags().Bool("scheduler", true, "Start the daily scheduler on boot")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	dbpool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbpool.Close()
	listings := postgres.NewListingRepo(dbpool, cfg.ListingsTable, logger)
	if err := listings.EnsureSchema(ctx); err != nil {
		return err
	}
	rejections := postgres.NewRejectionRepo(dbpool, cfg.RejectionsTable)
	if err := rejections.EnsureSchema(ctx); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	// --- Operations ---
	envFile, _ := cmd.Flags().GetString("env-file")
	sup := supervisor.New(cfg.LogDir, cfg.StopGracePeriod, supervisor.SelfCommand("--env-file", envFile), logger)

	backups, err := newBackupService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		SpiderTime:   cfg.SpiderTime,
		DumpTime:     cfg.DumpTime,
		RunSpiderNow: cfg.RunSpiderNow,
	}, func() {
		if _, err := sup.Start(); err != nil {
			logger.Warn("scheduled crawl not started", zap.Error(err))
		}
	}, func() {
		_, _ = backups.Run(context.Background())
	}, logger)
	if err != nil {
		return err
	}
	if on, _ := cmd.Flags().GetBool("scheduler"); on {
		if err := sched.Start(); err != nil {
			return err
		}
	}

	// --- HTTP Server ---
	h := handler.NewHandler(handler.Deps{
		Crawl:     sup,
		Scheduler: sched,
		Backup:    backups,
		Listings:  usecase.NewListingQuery(listings, rejections),
		Checks: map[string]handler.PingFunc{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}, logger)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.New(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopGracePeriod+10*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		logger.Warn("failed to stop scheduler", zap.Error(err))
	}
	if _, err := sup.Stop(shutdownCtx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		logger.Warn("failed to stop crawl", zap.Error(err))
	}
	return server.Shutdown(shutdownCtx)
}
