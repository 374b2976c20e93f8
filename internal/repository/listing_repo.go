package repository

import (
	"context"
	"errors"

	"github.com/user/autoria-crawler/internal/entity"
)

// ErrNotFound is returned when a listing does not exist.
var ErrNotFound = errors.New("listing not found")

// ListingRepository persists normalized listings keyed by URL.
type ListingRepository interface {
	// EnsureSchema creates the listings table when it is missing.
	EnsureSchema(ctx context.Context) error
	// Upsert inserts or updates one listing in its own transaction.
	// inserted is false when an existing row was updated.
	Upsert(ctx context.Context, l *entity.Listing) (inserted bool, err error)
	// FindByURL returns the stored listing or ErrNotFound.
	FindByURL(ctx context.Context, url string) (*entity.Listing, error)
	// AllURLs returns the URL of every stored listing.
	AllURLs(ctx context.Context) ([]string, error)
	// Count returns the number of stored listings.
	Count(ctx context.Context) (int64, error)
	// Recent returns up to limit listings ordered by id, newest first unless oldest is set.
	Recent(ctx context.Context, limit int, oldest bool) ([]*entity.Listing, error)
}
