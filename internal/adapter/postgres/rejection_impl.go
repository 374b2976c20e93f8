package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/autoria-crawler/internal/entity"
)

// RejectionRepoImpl implements repository.RejectionRepository with PostgreSQL.
type RejectionRepoImpl struct {
	db    *pgxpool.Pool
	table string
	now   func() time.Time
}

// NewRejectionRepo creates a repository over the given table.
func NewRejectionRepo(db *pgxpool.Pool, table string) *RejectionRepoImpl {
	return &RejectionRepoImpl{db: db, table: pgx.Identifier{table}.Sanitize(), now: time.Now}
}

func (r *RejectionRepoImpl) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		reason TEXT NOT NULL,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		last_seen_at TIMESTAMPTZ NOT NULL
	)`, r.table)
	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

// Record increments attempts on conflict.
func (r *RejectionRepoImpl) Record(ctx context.Context, rej *entity.Rejection) error {
	var msg *string
	if rej.Err != nil {
		s := rej.Err.Error()
		msg = &s
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (url, reason, error, attempts, last_seen_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (url) DO UPDATE SET
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			attempts = %s.attempts + 1,
			last_seen_at = EXCLUDED.last_seen_at`, r.table, r.table)
	if _, err := r.db.Exec(ctx, query, rej.URL, string(rej.Reason), msg, r.now().UTC()); err != nil {
		return fmt.Errorf("record rejection %s: %w", rej.URL, err)
	}
	return nil
}

func (r *RejectionRepoImpl) Clear(ctx context.Context, url string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, r.table)
	if _, err := r.db.Exec(ctx, query, url); err != nil {
		return fmt.Errorf("clear rejection %s: %w", url, err)
	}
	return nil
}

func (r *RejectionRepoImpl) Recent(ctx context.Context, limit int) ([]*entity.RejectionRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, url, reason, COALESCE(error, ''), attempts, last_seen_at
		FROM %s
		ORDER BY last_seen_at DESC
		LIMIT $1`, r.table)
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	records := []*entity.RejectionRecord{}
	for rows.Next() {
		var rec entity.RejectionRecord
		var reason string
		if err := rows.Scan(&rec.ID, &rec.URL, &reason, &rec.Error, &rec.Attempts, &rec.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		rec.Reason = entity.RejectReason(reason)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
