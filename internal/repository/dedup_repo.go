package repository

import "context"

// DedupRepository answers "has this listing URL been persisted before?".
// Implementations never fail the crawl: when the backing store is unavailable
// they report every URL as unseen.
type DedupRepository interface {
	// Contains reports whether url is already known.
	Contains(ctx context.Context, url string) bool
	// Add records url after it has been persisted.
	Add(ctx context.Context, url string)
	// Warm replaces the set with urls.
	Warm(ctx context.Context, urls []string) error
}
