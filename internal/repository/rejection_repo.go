package repository

import (
	"context"

	"github.com/user/autoria-crawler/internal/entity"
)

// RejectionRepository keeps a record of dropped URLs across runs.
type RejectionRepository interface {
	EnsureSchema(ctx context.Context) error
	// Record stores the rejection, counting repeated drops of the same URL.
	Record(ctx context.Context, rej *entity.Rejection) error
	// Clear removes the record once the URL has been stored successfully.
	Clear(ctx context.Context, url string) error
	// Recent returns up to limit records, most recently seen first.
	Recent(ctx context.Context, limit int) ([]*entity.RejectionRecord, error)
}
