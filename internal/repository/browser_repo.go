package repository

import (
	"context"
	"time"

	"github.com/user/autoria-crawler/internal/intercept"
)

// BrowserPool hands out rendered browser pages. Acquire blocks until a page
// slot is free; the caller must Close the page.
type BrowserPool interface {
	Acquire(ctx context.Context, profile intercept.BrowserProfile) (BrowserPage, error)
	Close() error
}

// BrowserPage is one tab. Every wait is bounded by the given timeout.
type BrowserPage interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitEnabled(ctx context.Context, selector string, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// ClickViaScript calls element.click() from page script.
	ClickViaScript(ctx context.Context, selector string, timeout time.Duration) error
	// WaitTextHasDigit polls until the element's text contains a digit.
	WaitTextHasDigit(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string, timeout time.Duration) (string, error)
	HTML(ctx context.Context, timeout time.Duration) (string, error)
	Sleep(ctx context.Context, d time.Duration) error
	Close() error
}
