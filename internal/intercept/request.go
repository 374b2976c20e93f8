// Package intercept prepares outgoing crawl requests. A Chain runs a fixed,
// ordered list of stages over every request before it is fetched or rendered:
// proxy selection, user-agent rotation, header-set rotation and, for rendered
// requests, syncing the final identity into the browser profile.
package intercept

import (
	"context"
	"fmt"
	"net/http"
)

// BrowserProfile is the identity a browser tab is opened with.
type BrowserProfile struct {
	UserAgent string
	Headers   map[string]string
	Proxy     string
}

// Request is a pending page fetch.
type Request struct {
	URL     string
	Render  bool
	Header  http.Header
	Proxy   string
	Browser BrowserProfile
}

// NewRequest returns a request with an empty header set. Render marks detail
// pages that must go through the headless browser.
func NewRequest(url string, render bool) *Request {
	return &Request{URL: url, Render: render, Header: make(http.Header)}
}

// Stage mutates a request in place.
type Stage interface {
	Name() string
	Intercept(ctx context.Context, req *Request) error
}

// Chain applies its stages in order.
type Chain struct {
	stages []Stage
}

// NewChain builds a chain from stages in the given order.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// NewDefaultChain is proxy, user agent, headers, browser sync.
func NewDefaultChain(proxyURL string, pools Pools) *Chain {
	return NewChain(
		NewProxyStage(proxyURL),
		NewUserAgentStage(pools.UserAgents),
		NewHeaderStage(pools.HeaderSets),
		BrowserSyncStage{},
	)
}

// Stages returns the stage names in execution order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Apply runs every stage, stopping at the first error.
func (c *Chain) Apply(ctx context.Context, req *Request) error {
	for _, s := range c.stages {
		if err := s.Intercept(ctx, req); err != nil {
			return fmt.Errorf("intercept %s: %w", s.Name(), err)
		}
	}
	return nil
}
