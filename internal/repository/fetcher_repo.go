package repository

import (
	"context"

	"github.com/user/autoria-crawler/internal/intercept"
)

// PageFetcher downloads a page over plain HTTP after the request passed the
// interception chain.
type PageFetcher interface {
	Fetch(ctx context.Context, req *intercept.Request) ([]byte, error)
	// Allowed reports whether robots.txt permits url.
	Allowed(ctx context.Context, url string) bool
}
