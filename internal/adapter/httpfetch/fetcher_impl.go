package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/throttle"
	"github.com/user/autoria-crawler/pkg/metrics"
	"github.com/user/autoria-crawler/pkg/utils"
)

// ErrDisallowed is returned for URLs excluded by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError is a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Config tunes the fetcher.
type Config struct {
	Timeout    time.Duration
	RetryTimes int
	RetryCodes []int
	Backoff    time.Duration
	MaxBody    int64
}

// Fetcher downloads listing pages over plain HTTP, honouring the throttle,
// robots.txt and the request's proxy.
type Fetcher struct {
	cfg      Config
	throttle *throttle.Throttle
	robots   *RobotsPolicy
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewFetcher builds a fetcher. robots may be nil to skip robots.txt checks.
func NewFetcher(cfg Config, th *throttle.Throttle, robots *RobotsPolicy, logger *zap.Logger) *Fetcher {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 16 << 20
	}
	return &Fetcher{
		cfg:      cfg,
		throttle: th,
		robots:   robots,
		logger:   logger,
		clients:  make(map[string]*http.Client),
	}
}

// Allowed reports whether robots.txt permits rawURL.
func (f *Fetcher) Allowed(ctx context.Context, rawURL string) bool {
	if f.robots == nil {
		return true
	}
	return f.robots.Allowed(ctx, rawURL)
}

// Fetch returns the body of req.URL, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, req *intercept.Request) ([]byte, error) {
	if !f.Allowed(ctx, req.URL) {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrDisallowed)
	}

	start := time.Now()
	var body []byte
	err := utils.Retry(ctx, f.cfg.RetryTimes+1, f.cfg.Backoff, func(ctx context.Context) error {
		b, err := f.fetchOnce(ctx, req)
		if err != nil {
			if utils.IsPermanent(err) || f.retryable(err) {
				return err
			}
			return utils.Permanent(err)
		}
		body = b
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		f.logger.Warn("fetch failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	metrics.FetchDuration.WithLabelValues("listing").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PagesFetched.WithLabelValues("listing", "error").Inc()
		return nil, err
	}
	metrics.PagesFetched.WithLabelValues("listing", "ok").Inc()
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, req *intercept.Request) ([]byte, error) {
	release, err := f.throttle.Acquire(ctx, req.URL, req.Proxy)
	if err != nil {
		return nil, err
	}
	defer release()

	client, err := f.client(req.Proxy)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, utils.Permanent(err)
	}
	httpReq.Header = req.Header.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: req.URL, Status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBody))
}

func (f *Fetcher) retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return slices.Contains(f.cfg.RetryCodes, se.Status)
	}
	// Parent cancellation is handled by Retry; a per-attempt timeout is transient.
	return true
}

func (f *Fetcher) client(proxy string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxy]; ok {
		return c, nil
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, utils.Permanent(fmt.Errorf("parse proxy: %w", err))
		}
		transport.Proxy = http.ProxyURL(u)
	}
	c := &http.Client{Transport: transport}
	f.clients[proxy] = c
	return c, nil
}
