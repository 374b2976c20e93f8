package chromedp_browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/repository"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

const hideWebDriver = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['uk-UA', 'uk', 'en-US', 'en'] });
`

// Config sizes the pool.
type Config struct {
	Headless           bool
	MaxContexts        int
	MaxPagesPerContext int
	// Proxy is applied at browser launch. Credentials in the URL are answered
	// through the fetch domain.
	Proxy string
	// StartupTimeout bounds a browser launch and the setup of each tab.
	StartupTimeout time.Duration
}

const defaultStartupTimeout = time.Minute

// browser is one Chrome process, launched on first use.
type browser struct {
	once      sync.Once
	allocCtx  context.Context
	cancel    context.CancelFunc
	ctx       context.Context
	ctxCancel context.CancelFunc
	err       error
}

// PoolImpl implements repository.BrowserPool with chromedp. It keeps
// MaxContexts Chrome processes and at most MaxPagesPerContext tabs in each.
type PoolImpl struct {
	cfg      Config
	logger   *zap.Logger
	browsers []*browser
	slots    chan int

	proxyUser string
	proxyPass string
	proxyAddr string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPool prepares the pool. Chrome is started lazily by Acquire.
func NewPool(cfg Config, logger *zap.Logger) (*PoolImpl, error) {
	if cfg.MaxContexts < 1 || cfg.MaxPagesPerContext < 1 {
		return nil, fmt.Errorf("invalid browser pool size %dx%d", cfg.MaxContexts, cfg.MaxPagesPerContext)
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	p := &PoolImpl{
		cfg:      cfg,
		logger:   logger,
		browsers: make([]*browser, cfg.MaxContexts),
		slots:    make(chan int, cfg.MaxContexts*cfg.MaxPagesPerContext),
		done:     make(chan struct{}),
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		p.proxyAddr = u.Scheme + "://" + u.Host
		if u.User != nil {
			p.proxyUser = u.User.Username()
			p.proxyPass, _ = u.User.Password()
		}
	}
	for i := range p.browsers {
		p.browsers[i] = &browser{}
	}
	// Interleave slots so consecutive pages land on different browsers.
	for n := 0; n < cfg.MaxPagesPerContext; n++ {
		for i := 0; i < cfg.MaxContexts; i++ {
			p.slots <- i
		}
	}
	return p, nil
}

func (p *PoolImpl) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("lang", "uk-UA"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(intercept.FallbackUserAgent),
	}
	if p.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if p.proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(p.proxyAddr))
	}
	return opts
}

// launch starts browser idx once. The launch is shared by every slot of that
// browser, so it is bounded by the startup timeout and pool shutdown only; a
// cancelled caller must not leave the browser permanently failed.
func (p *PoolImpl) launch(idx int) (context.Context, error) {
	b := p.browsers[idx]
	b.once.Do(func() {
		b.allocCtx, b.cancel = chromedp.NewExecAllocator(context.Background(), p.allocatorOptions()...)
		b.ctx, b.ctxCancel = chromedp.NewContext(b.allocCtx)
		abort := func() {
			b.ctxCancel()
			b.cancel()
		}
		if err := p.bounded(context.Background(), abort, func() error { return chromedp.Run(b.ctx) }); err != nil {
			b.err = fmt.Errorf("launch browser %d: %w", idx, err)
			return
		}
		p.logger.Info("browser launched", zap.Int("context", idx))
	})
	return b.ctx, b.err
}

// Acquire blocks for a free tab slot and opens a tab configured with profile.
func (p *PoolImpl) Acquire(ctx context.Context, profile intercept.BrowserProfile) (repository.BrowserPage, error) {
	var idx int
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	case idx = <-p.slots:
	}

	release := func() { p.slots <- idx }

	browserCtx, err := p.launch(idx)
	if err != nil {
		release()
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	if err := p.prepareTab(ctx, tabCtx, cancel, profile); err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("prepare tab: %w", err)
	}
	return &pageImpl{ctx: tabCtx, cancel: cancel, release: release}, nil
}

// bounded runs fn until it returns, or until ctx ends, the pool closes or
// the startup timeout elapses. In those cases abort is called, which must make
// fn return.
func (p *PoolImpl) bounded(ctx context.Context, abort func(), fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(p.cfg.StartupTimeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cause = ctx.Err()
	case <-p.done:
		cause = ErrPoolClosed
	case <-timer.C:
		cause = fmt.Errorf("browser did not respond within %s: %w", p.cfg.StartupTimeout, context.DeadlineExceeded)
	}
	abort()
	<-done
	return cause
}

func (p *PoolImpl) prepareTab(ctx, tabCtx context.Context, abort func(), profile intercept.BrowserProfile) error {
	if profile.Proxy != "" && profile.Proxy != p.cfg.Proxy {
		p.logger.Debug("request proxy differs from browser launch proxy", zap.String("proxy", profile.Proxy))
	}

	ua := profile.UserAgent
	if ua == "" {
		ua = intercept.FallbackUserAgent
	}
	acceptLanguage := "uk-UA,uk;q=0.9"
	headers := make(network.Headers, len(profile.Headers))
	for k, v := range profile.Headers {
		if strings.EqualFold(k, "Accept-Language") {
			acceptLanguage = v
		}
		headers[k] = v
	}

	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(ua).WithAcceptLanguage(acceptLanguage),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebDriver).Do(ctx)
			return err
		}),
	}
	if len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	if p.proxyUser != "" {
		p.listenProxyAuth(tabCtx)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	return p.bounded(ctx, abort, func() error { return chromedp.Run(tabCtx, actions...) })
}

// listenProxyAuth answers proxy auth challenges with the launch credentials.
// With auth handling enabled every request is paused and must be continued.
func (p *PoolImpl) listenProxyAuth(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(ctx)
				execCtx := cdp.WithExecutor(ctx, c.Target)
				_ = fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: p.proxyUser,
					Password: p.proxyPass,
				}).Do(execCtx)
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(ctx)
				execCtx := cdp.WithExecutor(ctx, c.Target)
				_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
			}()
		}
	})
}

// Close shuts every launched browser down. Tabs still open are cancelled
// with their browser.
func (p *PoolImpl) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	for i, b := range p.browsers {
		// Waits for an in-progress launch and blocks later ones.
		b.once.Do(func() { b.err = ErrPoolClosed })
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		if b.cancel != nil {
			b.cancel()
			p.logger.Debug("browser closed", zap.Int("context", i))
		}
	}
	return nil
}
