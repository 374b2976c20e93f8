package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/repository"
)

const listingColumns = `id, url, title, price_usd, odometer_km, seller_username, phone_numbers,
	image_urls, image_count, plate_number, vin, first_seen_at, last_updated_at`

// ListingRepoImpl implements repository.ListingRepository with PostgreSQL.
// Writes are serialized so at most one upsert transaction is open at a time.
type ListingRepoImpl struct {
	db     *pgxpool.Pool
	table  string
	name   string
	logger *zap.Logger

	writeMu sync.Mutex
}

// NewListingRepo creates a repository over the given table.
func NewListingRepo(db *pgxpool.Pool, table string, logger *zap.Logger) *ListingRepoImpl {
	return &ListingRepoImpl{
		db:     db,
		table:  pgx.Identifier{table}.Sanitize(),
		name:   table,
		logger: logger,
	}
}

// EnsureSchema creates the table with the fallback layout when it does not
// exist yet. An existing table is used as is.
func (r *ListingRepoImpl) EnsureSchema(ctx context.Context) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, r.name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check table %s: %w", r.name, err)
	}
	if exists {
		return nil
	}

	r.logger.Warn("listings table missing, creating fallback schema", zap.String("table", r.name))
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		title TEXT,
		price_usd BIGINT,
		odometer_km BIGINT,
		seller_username TEXT,
		phone_numbers BIGINT[],
		image_urls TEXT[],
		image_count INTEGER,
		plate_number TEXT,
		vin TEXT,
		first_seen_at TIMESTAMPTZ,
		last_updated_at TIMESTAMPTZ
	)`, r.table)
	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", r.name, err)
	}
	return nil
}

// Upsert looks the listing up by URL inside its own transaction and either
// updates the mutable fields or inserts a new row. first_seen_at is written
// only on insert.
func (r *ListingRepoImpl) Upsert(ctx context.Context, l *entity.Listing) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE url = $1 FOR UPDATE`, r.table), l.URL).Scan(&id)
	inserted := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("lookup %s: %w", l.URL, err)
	}

	if inserted {
		err = tx.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (url, title, price_usd, odometer_km, seller_username,
			phone_numbers, image_urls, image_count, plate_number, vin, first_seen_at, last_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`, r.table),
			l.URL, l.Title, l.PriceUSD, l.OdometerKM, l.SellerUsername,
			l.PhoneNumbers, l.ImageURLs, l.ImageCount, l.PlateNumber, l.VIN, l.FirstSeenAt, l.LastUpdatedAt,
		).Scan(&id)
		if err != nil {
			return false, fmt.Errorf("insert %s: %w", l.URL, err)
		}
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET title = $2, price_usd = $3, odometer_km = $4,
			seller_username = $5, phone_numbers = $6, image_urls = $7, image_count = $8,
			plate_number = $9, vin = $10, last_updated_at = $11
			WHERE id = $1`, r.table),
			id, l.Title, l.PriceUSD, l.OdometerKM, l.SellerUsername,
			l.PhoneNumbers, l.ImageURLs, l.ImageCount, l.PlateNumber, l.VIN, l.LastUpdatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("update %s: %w", l.URL, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit %s: %w", l.URL, err)
	}
	l.ID = id
	return inserted, nil
}

// FindByURL retrieves one listing.
func (r *ListingRepoImpl) FindByURL(ctx context.Context, url string) (*entity.Listing, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, listingColumns, r.table), url)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return l, err
}

// AllURLs returns every stored URL.
func (r *ListingRepoImpl) AllURLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT url FROM %s`, r.table))
	if err != nil {
		return nil, fmt.Errorf("select urls: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Count returns the number of stored listings.
func (r *ListingRepoImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&n)
	return n, err
}

// Recent returns up to limit listings by id.
func (r *ListingRepoImpl) Recent(ctx context.Context, limit int, oldest bool) ([]*entity.Listing, error) {
	order := "DESC"
	if oldest {
		order = "ASC"
	}
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY id %s LIMIT $1`, listingColumns, r.table, order), limit)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	var out []*entity.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanListing(row pgx.Row) (*entity.Listing, error) {
	var l entity.Listing
	var firstSeen, lastUpdated *time.Time
	err := row.Scan(
		&l.ID,
		&l.URL,
		&l.Title,
		&l.PriceUSD,
		&l.OdometerKM,
		&l.SellerUsername,
		&l.PhoneNumbers,
		&l.ImageURLs,
		&l.ImageCount,
		&l.PlateNumber,
		&l.VIN,
		&firstSeen,
		&lastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if firstSeen != nil {
		l.FirstSeenAt = *firstSeen
	}
	if lastUpdated != nil {
		l.LastUpdatedAt = *lastUpdated
	}
	return &l, nil
}
