package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/normalize"
	"github.com/user/autoria-crawler/internal/repository"
	"github.com/user/autoria-crawler/pkg/metrics"
)

// Pipeline normalizes and stores extracted listings.
type Pipeline interface {
	// Process stores raw. A failure is returned as an *entity.Rejection and
	// affects only this item.
	Process(ctx context.Context, raw *entity.RawListing) error
}

type pipelineUseCase struct {
	listings repository.ListingRepository
	dedup    repository.DedupRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipelineUseCase creates the persistence pipeline.
func NewPipelineUseCase(listings repository.ListingRepository, dedup repository.DedupRepository, logger *zap.Logger) Pipeline {
	return &pipelineUseCase{
		listings: listings,
		dedup:    dedup,
		logger:   logger,
		now:      time.Now,
	}
}

func (uc *pipelineUseCase) Process(ctx context.Context, raw *entity.RawListing) error {
	listing := normalize.Listing(raw, uc.now().UTC())
	if _, valid := normalize.VIN(raw.VIN); listing.VIN != nil && !valid {
		uc.logger.Debug("unexpected VIN length", zap.String("url", raw.URL), zap.String("vin", *listing.VIN))
	}

	inserted, err := uc.listings.Upsert(ctx, listing)
	if err != nil {
		metrics.ListingsPersisted.WithLabelValues("failed").Inc()
		uc.logger.Error("failed to persist listing", zap.String("url", raw.URL), zap.Error(err))
		return entity.Reject(raw.URL, entity.RejectPersistence, err)
	}

	op := "update"
	if inserted {
		op = "insert"
	}
	metrics.ListingsPersisted.WithLabelValues(op).Inc()
	uc.logger.Info("listing saved",
		zap.String("url", listing.URL),
		zap.String("op", op),
		zap.Int("phones", len(listing.PhoneNumbers)),
	)

	uc.dedup.Add(ctx, listing.URL)
	return nil
}

// WarmDedupCache rebuilds the dedup set from every stored URL. Reading the
// store is fatal; a dedup outage is not.
func WarmDedupCache(ctx context.Context, listings repository.ListingRepository, dedup repository.DedupRepository, logger *zap.Logger) error {
	urls, err := listings.AllURLs(ctx)
	if err != nil {
		return fmt.Errorf("load stored urls: %w", err)
	}
	if err := dedup.Warm(ctx, urls); err != nil {
		logger.Debug("dedup warm-up failed, continuing without deduplication", zap.Error(err))
	}
	return nil
}
