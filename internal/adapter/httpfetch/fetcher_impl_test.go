package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/throttle"
)

func newTestFetcher(robots *RobotsPolicy) *Fetcher {
	return NewFetcher(Config{
		Timeout:    2 * time.Second,
		RetryTimes: 3,
		RetryCodes: []int{500, 502, 503, 504, 522, 524, 408, 429, 403},
		Backoff:    time.Millisecond,
	}, throttle.New(throttle.Config{Global: 6, PerDomain: 4, PerIP: 1}), robots, zap.NewNop())
}

func TestFetchRetriesConfiguredStatuses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	req := intercept.NewRequest(srv.URL+"/uk/car/used/", false)
	req.Header.Set("User-Agent", "UA-test")

	body, err := newTestFetcher(nil).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "UA-test", gotUA.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), intercept.NewRequest(srv.URL, false))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchGivesUpAfterRetryTimes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), intercept.NewRequest(srv.URL, false))
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	f := newTestFetcher(NewRobotsPolicy(srv.Client(), "*", zap.NewNop()))

	_, err := f.Fetch(context.Background(), intercept.NewRequest(srv.URL+"/private/x", false))
	require.ErrorIs(t, err, ErrDisallowed)

	body, err := f.Fetch(context.Background(), intercept.NewRequest(srv.URL+"/uk/car/used/", false))
	require.NoError(t, err)
	assert.Equal(t, "page", string(body))
}

func TestRobotsMissingAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := NewRobotsPolicy(srv.Client(), "*", zap.NewNop())
	assert.True(t, p.Allowed(context.Background(), srv.URL+"/anything"))
}
