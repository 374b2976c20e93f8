package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/repository"
)

func newTestRepo(t *testing.T) *ListingRepoImpl {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	table := fmt.Sprintf("car_products_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})

	repo := NewListingRepo(pool, table, zap.NewNop())
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx), "existing table is reused")
	return repo
}

func strPtr(s string) *string { return &s }
func intPtr(n int64) *int64   { return &n }

func TestListingUpsertKeepsFirstSeen(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &entity.Listing{
		URL:           "https://auto.ria.com/uk/auto_bmw_x5_1.html",
		Title:         strPtr("BMW X5"),
		PriceUSD:      intPtr(38500),
		PhoneNumbers:  []int64{380971234567},
		ImageURLs:     []string{"https://cdn.riastatic.com/1.jpg"},
		ImageCount:    intPtr(13),
		FirstSeenAt:   t0,
		LastUpdatedAt: t0,
	}
	inserted, err := repo.Upsert(ctx, l)
	require.NoError(t, err)
	assert.True(t, inserted)

	t1 := t0.Add(24 * time.Hour)
	second := *l
	second.PriceUSD = intPtr(37000)
	second.FirstSeenAt = t1
	second.LastUpdatedAt = t1
	inserted, err = repo.Upsert(ctx, &second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.FindByURL(ctx, l.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(37000), *got.PriceUSD)
	assert.True(t, got.FirstSeenAt.Equal(t0))
	assert.True(t, got.LastUpdatedAt.Equal(t1))
	assert.Equal(t, []int64{380971234567}, got.PhoneNumbers)
	assert.Equal(t, int64(13), *got.ImageCount)
	assert.Nil(t, got.VIN)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	urls, err := repo.AllURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{l.URL}, urls)
}

func TestListingRecentOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		_, err := repo.Upsert(ctx, &entity.Listing{
			URL:           fmt.Sprintf("https://auto.ria.com/uk/auto_%d.html", i),
			FirstSeenAt:   now,
			LastUpdatedAt: now,
		})
		require.NoError(t, err)
	}

	newest, err := repo.Recent(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "https://auto.ria.com/uk/auto_3.html", newest[0].URL)

	oldest, err := repo.Recent(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "https://auto.ria.com/uk/auto_1.html", oldest[0].URL)

	_, err = repo.FindByURL(ctx, "https://auto.ria.com/uk/missing.html")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
