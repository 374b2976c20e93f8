// Package throttle enforces the crawl's concurrency caps: a global cap, a
// per-domain cap, a per-source-IP cap and an optional per-domain delay
// between downloads.
package throttle

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/user/autoria-crawler/pkg/utils"
)

// DirectSource keys requests that do not go through a proxy.
const DirectSource = "direct"

// Config holds the caps. Zero Delay disables the download delay.
type Config struct {
	Global    int
	PerDomain int
	PerIP     int
	Delay     time.Duration
}

// Throttle hands out request slots. It is safe for concurrent use.
type Throttle struct {
	cfg    Config
	global *semaphore.Weighted

	mu       sync.Mutex
	domains  map[string]*semaphore.Weighted
	sources  map[string]*semaphore.Weighted
	limiters map[string]*rate.Limiter
}

func New(cfg Config) *Throttle {
	return &Throttle{
		cfg:      cfg,
		global:   semaphore.NewWeighted(int64(cfg.Global)),
		domains:  make(map[string]*semaphore.Weighted),
		sources:  make(map[string]*semaphore.Weighted),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Acquire blocks until rawURL may be fetched through proxy (empty for a
// direct connection). The returned release must be called exactly once.
func (t *Throttle) Acquire(ctx context.Context, rawURL, proxy string) (release func(), err error) {
	domain := utils.Hostname(rawURL)
	source := sourceOf(proxy)

	domainSem, sourceSem, limiter := t.slots(domain, source)

	if err := t.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := domainSem.Acquire(ctx, 1); err != nil {
		t.global.Release(1)
		return nil, err
	}
	if err := sourceSem.Acquire(ctx, 1); err != nil {
		domainSem.Release(1)
		t.global.Release(1)
		return nil, err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			sourceSem.Release(1)
			domainSem.Release(1)
			t.global.Release(1)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sourceSem.Release(1)
			domainSem.Release(1)
			t.global.Release(1)
		})
	}, nil
}

func (t *Throttle) slots(domain, source string) (*semaphore.Weighted, *semaphore.Weighted, *rate.Limiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.domains[domain]
	if !ok {
		d = semaphore.NewWeighted(int64(t.cfg.PerDomain))
		t.domains[domain] = d
	}
	s, ok := t.sources[source]
	if !ok {
		s = semaphore.NewWeighted(int64(t.cfg.PerIP))
		t.sources[source] = s
	}
	if t.cfg.Delay <= 0 {
		return d, s, nil
	}
	l, ok := t.limiters[domain]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.cfg.Delay), 1)
		t.limiters[domain] = l
	}
	return d, s, l
}

func sourceOf(proxy string) string {
	if proxy == "" {
		return DirectSource
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return proxy
	}
	return u.Host
}
