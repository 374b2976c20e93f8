package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/extract"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/repository"
	"github.com/user/autoria-crawler/pkg/config"
	"github.com/user/autoria-crawler/pkg/metrics"
	"github.com/user/autoria-crawler/pkg/utils"
)

// Crawler walks the listing pages from the seed URL until the last page and
// extracts every listing it has not seen before.
type Crawler interface {
	Run(ctx context.Context) (*entity.Summary, error)
}

// Extractor renders and extracts one detail page.
type Extractor interface {
	Extract(ctx context.Context, req *intercept.Request) (*extract.Result, error)
}

// CrawlerConfig is the part of the configuration the controller needs.
type CrawlerConfig struct {
	StartURL      string
	ExcludedPaths []string
	Selectors     config.Selectors
	// MaxPendingDetails bounds detail pages dispatched but not finished, which
	// keeps pagination from running far ahead of extraction.
	MaxPendingDetails int
}

type crawlerUseCase struct {
	cfg        CrawlerConfig
	chain      *intercept.Chain
	fetcher    repository.PageFetcher
	extractor  Extractor
	pipeline   Pipeline
	dedup      repository.DedupRepository
	listings   repository.ListingRepository
	rejections repository.RejectionRepository // may be nil
	logger     *zap.Logger
}

// NewCrawlerUseCase creates the crawl controller.
func NewCrawlerUseCase(
	cfg CrawlerConfig,
	chain *intercept.Chain,
	fetcher repository.PageFetcher,
	extractor Extractor,
	pipeline Pipeline,
	dedup repository.DedupRepository,
	listings repository.ListingRepository,
	rejections repository.RejectionRepository,
	logger *zap.Logger,
) Crawler {
	if cfg.MaxPendingDetails < 1 {
		cfg.MaxPendingDetails = 16
	}
	return &crawlerUseCase{
		cfg:        cfg,
		chain:      chain,
		fetcher:    fetcher,
		extractor:  extractor,
		pipeline:   pipeline,
		dedup:      dedup,
		listings:   listings,
		rejections: rejections,
		logger:     logger,
	}
}

// run is the state of one crawl.
type run struct {
	uc      *crawlerUseCase
	g       *errgroup.Group
	pending *semaphore.Weighted

	mu      sync.Mutex
	visited map[string]struct{}
	// inFlight holds detail URLs dispatched during this run.
	inFlight sync.Map

	pages, candidates, skipped, dispatched, persisted, rejected atomic.Int64
}

func (r *run) summary() *entity.Summary {
	return &entity.Summary{
		ListingPages: r.pages.Load(),
		Candidates:   r.candidates.Load(),
		Skipped:      r.skipped.Load(),
		Dispatched:   r.dispatched.Load(),
		Persisted:    r.persisted.Load(),
		Rejected:     r.rejected.Load(),
	}
}

// Run warms the dedup cache and crawls. It returns a fatal error only when
// the stored URLs cannot be read or the seed page cannot be fetched; a
// cancelled ctx stops the crawl and is returned as is.
func (uc *crawlerUseCase) Run(ctx context.Context) (*entity.Summary, error) {
	if err := WarmDedupCache(ctx, uc.listings, uc.dedup, uc.logger); err != nil {
		return &entity.Summary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		uc:      uc,
		g:       g,
		pending: semaphore.NewWeighted(int64(uc.cfg.MaxPendingDetails)),
		visited: map[string]struct{}{uc.cfg.StartURL: {}},
	}

	uc.logger.Info("crawl started", zap.String("start_url", uc.cfg.StartURL))
	g.Go(func() error { return r.listingPage(gctx, uc.cfg.StartURL, true) })
	err := g.Wait()

	sum := r.summary()
	uc.logger.Info("crawl finished",
		zap.Int64("listing_pages", sum.ListingPages),
		zap.Int64("candidates", sum.Candidates),
		zap.Int64("skipped", sum.Skipped),
		zap.Int64("dispatched", sum.Dispatched),
		zap.Int64("persisted", sum.Persisted),
		zap.Int64("rejected", sum.Rejected),
	)
	if err == nil {
		err = ctx.Err()
	}
	return sum, err
}

// listingPage fetches one results page, dispatches its unseen listings and
// schedules the next page.
func (r *run) listingPage(ctx context.Context, pageURL string, seed bool) error {
	uc := r.uc
	log := uc.logger.With(zap.String("page", pageURL))

	req := intercept.NewRequest(pageURL, false)
	if err := uc.chain.Apply(ctx, req); err != nil {
		return r.listingFailed(ctx, pageURL, seed, err)
	}
	body, err := uc.fetcher.Fetch(ctx, req)
	if err != nil {
		return r.listingFailed(ctx, pageURL, seed, err)
	}
	page, err := extract.ParseListingPage(body, uc.cfg.Selectors)
	if err != nil {
		return r.listingFailed(ctx, pageURL, seed, err)
	}
	r.pages.Add(1)

	base, err := url.Parse(pageURL)
	if err != nil {
		return r.listingFailed(ctx, pageURL, seed, err)
	}

	for _, href := range page.DetailHrefs {
		r.candidates.Add(1)
		detailURL, ok := r.admit(ctx, base, href)
		if !ok {
			continue
		}
		if err := r.pending.Acquire(ctx, 1); err != nil {
			return nil
		}
		r.dispatched.Add(1)
		metrics.CandidatesTotal.WithLabelValues("dispatched").Inc()
		r.g.Go(func() error {
			defer r.pending.Release(1)
			r.detailPage(ctx, detailURL)
			return nil
		})
	}

	if page.NextHref == "" {
		log.Info("no next page, pagination finished")
		return nil
	}
	next, err := utils.ToAbsoluteURL(base, page.NextHref)
	if err != nil {
		log.Warn("invalid next page link", zap.String("href", page.NextHref), zap.Error(err))
		return nil
	}
	if !r.markVisited(next) {
		log.Info("next page already visited", zap.String("next", next))
		return nil
	}
	log.Info("moving to next page", zap.String("next", next))
	r.g.Go(func() error { return r.listingPage(ctx, next, false) })
	return nil
}

func (r *run) listingFailed(ctx context.Context, pageURL string, seed bool, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	reason := entity.RejectListingFetch
	if seed {
		reason = entity.RejectSeedFetch
	}
	metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
	rej := entity.Reject(pageURL, reason, err)
	if rej.Fatal() {
		r.uc.logger.Error("seed page unavailable, aborting crawl", zap.String("page", pageURL), zap.Error(err))
		return rej
	}
	r.uc.logger.Warn("listing page dropped", zap.String("page", pageURL), zap.Error(err))
	r.record(ctx, rej)
	return nil
}

// admit applies the candidate filter and returns the absolute detail URL.
func (r *run) admit(ctx context.Context, base *url.URL, href string) (string, bool) {
	reject := func(decision string) (string, bool) {
		metrics.CandidatesTotal.WithLabelValues(decision).Inc()
		r.skipped.Add(1)
		return "", false
	}

	if href == "" || utils.IsPseudoURL(href) {
		return reject("filtered")
	}
	lower := strings.ToLower(href)
	for _, p := range r.uc.cfg.ExcludedPaths {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return reject("filtered")
		}
	}
	abs, err := utils.ToAbsoluteURL(base, href)
	if err != nil {
		return reject("filtered")
	}
	if _, loaded := r.inFlight.LoadOrStore(abs, struct{}{}); loaded {
		return reject("in_flight")
	}
	if r.uc.dedup.Contains(ctx, abs) {
		r.uc.logger.Debug("already stored, skipping", zap.String("url", abs))
		return reject("seen")
	}
	return abs, true
}

func (r *run) markVisited(pageURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[pageURL]; ok {
		return false
	}
	r.visited[pageURL] = struct{}{}
	return true
}

// detailPage extracts and stores one listing. Failures only drop the item.
func (r *run) detailPage(ctx context.Context, detailURL string) {
	uc := r.uc

	if !uc.fetcher.Allowed(ctx, detailURL) {
		r.drop(ctx, entity.Reject(detailURL, entity.RejectRobots, nil))
		return
	}

	req := intercept.NewRequest(detailURL, true)
	if err := uc.chain.Apply(ctx, req); err != nil {
		r.drop(ctx, entity.Reject(detailURL, entity.RejectBrowser, err))
		return
	}

	res, err := uc.extractor.Extract(ctx, req)
	if err != nil {
		r.drop(ctx, err)
		return
	}
	if err := uc.pipeline.Process(ctx, res.Listing); err != nil {
		r.drop(ctx, err)
		return
	}
	r.persisted.Add(1)
	if uc.rejections != nil {
		if err := uc.rejections.Clear(ctx, detailURL); err != nil {
			uc.logger.Warn("failed to clear rejection record", zap.String("url", detailURL), zap.Error(err))
		}
	}
}

func (r *run) drop(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	r.rejected.Add(1)
	var rej *entity.Rejection
	if errors.As(err, &rej) {
		metrics.RejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
		r.uc.logger.Warn("listing dropped",
			zap.String("url", rej.URL),
			zap.String("reason", string(rej.Reason)),
			zap.Error(rej.Err),
		)
		r.record(ctx, rej)
		return
	}
	metrics.RejectionsTotal.WithLabelValues("unknown").Inc()
	r.uc.logger.Warn("listing dropped", zap.Error(fmt.Errorf("unclassified: %w", err)))
}

func (r *run) record(ctx context.Context, rej *entity.Rejection) {
	if r.uc.rejections == nil {
		return
	}
	if err := r.uc.rejections.Record(ctx, rej); err != nil {
		r.uc.logger.Warn("failed to record rejection", zap.String("url", rej.URL), zap.Error(err))
	}
}
