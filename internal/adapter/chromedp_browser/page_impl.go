package chromedp_browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrElementNotFound is returned by script-level actions on a missing element.
var ErrElementNotFound = errors.New("element not found")

type pageImpl struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *pageImpl) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (p *pageImpl) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.Navigate(url))
}

func (p *pageImpl) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *pageImpl) WaitEnabled(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitEnabled(selector, chromedp.ByQuery))
}

func (p *pageImpl) ScrollIntoView(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

func (p *pageImpl) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *pageImpl) ClickViaScript(ctx context.Context, selector string, timeout time.Duration) error {
	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	var clicked bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, sel)
	if err := p.run(ctx, timeout, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return nil
}

func (p *pageImpl) WaitTextHasDigit(ctx context.Context, selector string, timeout time.Duration) error {
	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return !!el && /\d/.test(el.textContent || '');
	})()`, sel)
	var ok bool
	// The outer deadline leaves the poll room to report its own timeout.
	err = p.run(ctx, timeout+time.Second, chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(timeout)))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (p *pageImpl) Text(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var text string
	err := p.run(ctx, timeout, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (p *pageImpl) HTML(ctx context.Context, timeout time.Duration) (string, error) {
	var html string
	err := p.run(ctx, timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *pageImpl) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the tab and frees its slot. Safe to call more than once.
func (p *pageImpl) Close() error {
	p.once.Do(func() {
		p.cancel()
		p.release()
	})
	return nil
}
