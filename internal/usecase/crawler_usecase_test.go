package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/pkg/config"
)

const seedURL = "https://auto.ria.com/uk/car/used/"

func listingHTML(next string, hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<section class="ticket-item"><a class="m-link-ticket" href="%s">car</a></section>`, h)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="js-next page-link" href="%s">next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type harness struct {
	fetcher    *fakeFetcher
	extractor  *fakeExtractor
	dedup      *fakeDedup
	listings   *fakeListings
	rejections *fakeRejections
	crawler    Crawler
}

func newHarness(pages map[string]string, stored ...string) *harness {
	h := &harness{
		fetcher:    &fakeFetcher{pages: pages, disallowed: map[string]bool{}},
		extractor:  &fakeExtractor{reject: map[string]entity.RejectReason{}},
		dedup:      newFakeDedup(),
		listings:   newFakeListings(stored...),
		rejections: newFakeRejections(),
	}
	logger := zap.NewNop()
	h.crawler = NewCrawlerUseCase(
		CrawlerConfig{
			StartURL:          seedURL,
			ExcludedPaths:     []string{"newauto"},
			Selectors:         config.DefaultSelectors(),
			MaxPendingDetails: 2,
		},
		intercept.NewDefaultChain("", intercept.Pools{}),
		h.fetcher,
		h.extractor,
		NewPipelineUseCase(h.listings, h.dedup, logger),
		h.dedup,
		h.listings,
		h.rejections,
		logger,
	)
	return h
}

func TestCrawlerSkipsStoredListings(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{
		seedURL: listingHTML("",
			"/uk/auto_a_1.html",
			"https://auto.ria.com/uk/auto_b_2.html",
			"/uk/auto_c_3.html",
		),
	}, "https://auto.ria.com/uk/auto_b_2.html")

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"https://auto.ria.com/uk/auto_a_1.html",
		"https://auto.ria.com/uk/auto_c_3.html",
	}, h.extractor.urls())
	assert.ElementsMatch(t, []string{"https://auto.ria.com/uk/auto_b_2.html"}, h.dedup.warmed)
	assert.Equal(t, int64(1), sum.ListingPages)
	assert.Equal(t, int64(3), sum.Candidates)
	assert.Equal(t, int64(1), sum.Skipped)
	assert.Equal(t, int64(2), sum.Persisted)
	assert.True(t, h.dedup.Contains(context.Background(), "https://auto.ria.com/uk/auto_a_1.html"), "persisted listings join the dedup set")
}

func TestCrawlerFiltersCandidates(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{
		seedURL: listingHTML("",
			"javascript:void(0)",
			"#top",
			"https://auto.ria.com/uk/newauto/bmw-x5-1.html",
			"/uk/auto_a_1.html",
			"/uk/auto_a_1.html",
		),
	})

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://auto.ria.com/uk/auto_a_1.html"}, h.extractor.urls())
	assert.Equal(t, int64(4), sum.Skipped)
	assert.Equal(t, int64(1), sum.Dispatched)
}

func TestCrawlerFollowsPaginationToTheEnd(t *testing.T) {
	t.Parallel()

	page2 := seedURL + "?page=2"
	page3 := seedURL + "?page=3"
	h := newHarness(map[string]string{
		seedURL: listingHTML("?page=2", "/uk/auto_1.html"),
		page2:   listingHTML("?page=3", "/uk/auto_2.html"),
		page3:   listingHTML("", "/uk/auto_3.html"),
	})

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), sum.ListingPages)
	assert.Len(t, h.extractor.urls(), 3)
	for _, u := range []string{seedURL, page2, page3} {
		assert.Equal(t, 1, h.fetcher.fetchCount(u), u)
	}
}

func TestCrawlerNeverRevisitsListingPages(t *testing.T) {
	t.Parallel()

	page2 := seedURL + "?page=2"
	h := newHarness(map[string]string{
		seedURL: listingHTML("?page=2", "/uk/auto_1.html"),
		page2:   listingHTML(seedURL, "/uk/auto_2.html"),
	})

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.ListingPages)
	assert.Equal(t, 1, h.fetcher.fetchCount(seedURL))
}

func TestCrawlerSeedFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{})

	_, err := h.crawler.Run(context.Background())

	var rej *entity.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, entity.RejectSeedFetch, rej.Reason)
	assert.True(t, rej.Fatal())
}

func TestCrawlerLaterListingFailureEndsBranchOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{
		seedURL: listingHTML("?page=2", "/uk/auto_1.html"),
	})

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Persisted)
}

func TestCrawlerItemFailuresDoNotStopTheRun(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{
		seedURL: listingHTML("", "/uk/auto_1.html", "/uk/auto_2.html", "/uk/auto_3.html", "/uk/auto_4.html"),
	})
	h.extractor.reject["https://auto.ria.com/uk/auto_1.html"] = entity.RejectSellerInfoMissing
	h.listings.upsertErr["https://auto.ria.com/uk/auto_2.html"] = errors.New("deadlock detected")
	h.fetcher.disallowed["https://auto.ria.com/uk/auto_3.html"] = true

	sum, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Persisted)
	assert.Equal(t, int64(3), sum.Rejected)
	assert.False(t, h.dedup.Contains(context.Background(), "https://auto.ria.com/uk/auto_2.html"), "failed writes stay out of the dedup set")
	assert.NotContains(t, h.extractor.urls(), "https://auto.ria.com/uk/auto_3.html")

	assert.Equal(t, map[string]entity.RejectReason{
		"https://auto.ria.com/uk/auto_1.html": entity.RejectSellerInfoMissing,
		"https://auto.ria.com/uk/auto_2.html": entity.RejectPersistence,
		"https://auto.ria.com/uk/auto_3.html": entity.RejectRobots,
	}, h.rejections.reasons())
	assert.Equal(t, []string{"https://auto.ria.com/uk/auto_4.html"}, h.rejections.cleared)
}

func TestCrawlerDetailRequestsCarryBrowserProfile(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{seedURL: listingHTML("", "/uk/auto_1.html")})

	_, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.extractor.requests, 1)
	req := h.extractor.requests[0]
	assert.True(t, req.Render)
	assert.Equal(t, intercept.FallbackUserAgent, req.Browser.UserAgent)
	assert.Equal(t, []string{intercept.FallbackUserAgent}, h.fetcher.userAgents)
}

func TestCrawlerWarmUpFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{seedURL: listingHTML("")})
	h.listings.urlsErr = errors.New("connection refused")

	_, err := h.crawler.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.fetcher.fetched)
}

func TestCrawlerCancelledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{seedURL: listingHTML("", "/uk/auto_1.html")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.crawler.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
