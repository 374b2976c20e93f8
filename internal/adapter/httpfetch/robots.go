package httpfetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsPolicy caches one robots.txt per host. A robots.txt that cannot be
// fetched or parsed allows everything.
type RobotsPolicy struct {
	client *http.Client
	agent  string
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.Group
}

func NewRobotsPolicy(client *http.Client, agent string, logger *zap.Logger) *RobotsPolicy {
	return &RobotsPolicy{
		client: client,
		agent:  agent,
		logger: logger,
		hosts:  make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether rawURL may be crawled.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	group := p.group(ctx, u)
	if group == nil {
		return true
	}
	return group.Test(u.RequestURI())
}

func (p *RobotsPolicy) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	origin := u.Scheme + "://" + u.Host

	p.mu.Lock()
	g, ok := p.hosts[origin]
	p.mu.Unlock()
	if ok {
		return g
	}

	g = p.fetch(ctx, origin)

	p.mu.Lock()
	p.hosts[origin] = g
	p.mu.Unlock()
	return g
}

func (p *RobotsPolicy) fetch(ctx context.Context, origin string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("robots.txt unavailable, allowing all", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		p.logger.Warn("robots.txt unparsable, allowing all", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data.FindGroup(p.agent)
}
