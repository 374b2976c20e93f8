package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/repository"
)

// MaxItems caps a single items query.
const MaxItems = 1000

var ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxItems)

// ListingStats summarizes the listing store.
type ListingStats struct {
	TotalItems int64 `json:"total_items"`
}

// ListingQuery serves read-only views of stored listings.
type ListingQuery interface {
	Stats(ctx context.Context) (*ListingStats, error)
	Items(ctx context.Context, limit int, oldest bool) ([]*entity.Listing, error)
	Lookup(ctx context.Context, url string) (*entity.Listing, error)
	Rejections(ctx context.Context, limit int) ([]*entity.RejectionRecord, error)
}

type listingQueryUseCase struct {
	listings   repository.ListingRepository
	rejections repository.RejectionRepository
}

// NewListingQuery creates a new ListingQuery use case. rejections may be nil.
func NewListingQuery(listings repository.ListingRepository, rejections repository.RejectionRepository) ListingQuery {
	return &listingQueryUseCase{listings: listings, rejections: rejections}
}

func (uc *listingQueryUseCase) Stats(ctx context.Context) (*ListingStats, error) {
	n, err := uc.listings.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}
	return &ListingStats{TotalItems: n}, nil
}

func (uc *listingQueryUseCase) Items(ctx context.Context, limit int, oldest bool) ([]*entity.Listing, error) {
	if limit < 1 || limit > MaxItems {
		return nil, ErrInvalidLimit
	}
	items, err := uc.listings.Recent(ctx, limit, oldest)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	if items == nil {
		items = []*entity.Listing{}
	}
	return items, nil
}

// Lookup returns repository.ErrNotFound for unknown URLs.
func (uc *listingQueryUseCase) Lookup(ctx context.Context, url string) (*entity.Listing, error) {
	l, err := uc.listings.FindByURL(ctx, url)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("find listing: %w", err)
	}
	return l, nil
}

func (uc *listingQueryUseCase) Rejections(ctx context.Context, limit int) ([]*entity.RejectionRecord, error) {
	if limit < 1 || limit > MaxItems {
		return nil, ErrInvalidLimit
	}
	if uc.rejections == nil {
		return []*entity.RejectionRecord{}, nil
	}
	recs, err := uc.rejections.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	return recs, nil
}
