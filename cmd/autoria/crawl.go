package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/adapter/chromedp_browser"
	"github.com/user/autoria-crawler/internal/adapter/httpfetch"
	"github.com/user/autoria-crawler/internal/adapter/postgres"
	redis_adapter "github.com/user/autoria-crawler/internal/adapter/redis"
	"github.com/user/autoria-crawler/internal/extract"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/throttle"
	"github.com/user/autoria-crawler/internal/usecase"
	"github.com/user/autoria-crawler/pkg/config"
)

const robotsAgent = "autoria-crawler"

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl from the seed listing page to the last page",
		Long: `Crawl walks the used-car listing pages, renders every listing not seen
before in a headless browser, and upserts the normalized result into Postgres.

The process exits with status 1 when the seed page cannot be fetched or the
database is unusable at startup. SIGINT stops the crawl after in-flight pages.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}
	cmd.Flags().String("log-file", "", "Also write logs to this file")
	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	outputs := []string{"stdout"}
	logFile, _ := cmd.Flags().GetString("log-file")
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		outputs = append(outputs, logFile)
	}
	logger, err := newLogger(cfg, outputs...)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return crawl(ctx, cfg, logger)
}

func crawl(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sel, err := config.LoadSelectors(cfg.SelectorsFile)
	if err != nil {
		return err
	}

	// --- Storage ---
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
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
	dedup := redis_adapter.NewDedupRepo(rdb, cfg.DedupSetKey, logger)

	// --- Request identity ---
	fingerprints := intercept.NewFingerprintClient(intercept.FingerprintConfig{
		APIKey:            cfg.ScrapeOpsAPIKey,
		UserAgentEndpoint: cfg.ScrapeOpsUserAgentEndpoint,
		HeadersEndpoint:   cfg.ScrapeOpsHeadersEndpoint,
		NumResults:        cfg.ScrapeOpsNumResults,
		Browsers:          cfg.FingerprintBrowsers,
	}, &http.Client{Timeout: 10 * time.Second}, logger)
	chain := intercept.NewDefaultChain(cfg.ProxyURL, fingerprints.LoadPools(ctx))
	logger.Info("interception chain ready", zap.String("stages", strings.Join(chain.Stages(), ",")))

	// --- Fetching ---
	th := throttle.New(throttle.Config{
		Global:    cfg.ConcurrentRequests,
		PerDomain: cfg.ConcurrentRequestsPerDomain,
		PerIP:     cfg.ConcurrentRequestsPerIP,
		Delay:     cfg.DownloadDelay,
	})
	var robots *httpfetch.RobotsPolicy
	if cfg.RobotsObey {
		robots = httpfetch.NewRobotsPolicy(&http.Client{Timeout: cfg.DownloadTimeout}, robotsAgent, logger)
	}
	fetcher := httpfetch.NewFetcher(httpfetch.Config{
		Timeout:    cfg.DownloadTimeout,
		RetryTimes: cfg.RetryTimes,
		RetryCodes: cfg.RetryHTTPCodes,
	}, th, robots, logger)

	browsers, err := chromedp_browser.NewPool(chromedp_browser.Config{
		Headless:           cfg.Browser.Headless,
		MaxContexts:        cfg.Browser.MaxContexts,
		MaxPagesPerContext: cfg.Browser.MaxPagesPerContext,
		Proxy:              cfg.ProxyURL,
		StartupTimeout:     cfg.Browser.NavigationTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer browsers.Close()

	engine := extract.NewEngine(browsers, th, sel, cfg.Browser, cfg.RetryTimes, logger)
	pipeline := usecase.NewPipelineUseCase(listings, dedup, logger)

	crawler := usecase.NewCrawlerUseCase(usecase.CrawlerConfig{
		StartURL:          cfg.StartURL,
		ExcludedPaths:     cfg.ExcludedPaths,
		Selectors:         sel,
		MaxPendingDetails: cfg.Browser.MaxContexts * cfg.Browser.MaxPagesPerContext * 2,
	}, chain, fetcher, engine, pipeline, dedup, listings, rejections, logger)

	_, err = crawler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("crawl interrupted")
		return nil
	}
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return err
	}
	return nil
}
