package intercept

import (
	"context"
	"math/rand/v2"
	"strings"
)

// FallbackUserAgent is sent when the user-agent pool is empty.
const FallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// FallbackHeaders is a consistent desktop Chrome header set used when the
// header pool is empty.
var FallbackHeaders = map[string]string{
	"upgrade-insecure-requests": "1",
	"user-agent":                FallbackUserAgent,
	"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"accept-language":           "uk-UA,uk;q=0.9,en-US;q=0.8,en;q=0.7",
	"sec-ch-ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	"sec-ch-ua-mobile":          "?0",
	"sec-ch-ua-platform":        `"Windows"`,
}

// allowedHeaders are the only keys copied from a header set.
var allowedHeaders = []string{
	"accept-language",
	"sec-fetch-user",
	"sec-fetch-mod",
	"sec-fetch-site",
	"sec-ch-ua-platform",
	"sec-ch-ua-mobile",
	"sec-ch-ua",
	"accept",
	"user-agent",
	"upgrade-insecure-requests",
}

// ProxyStage routes every request through one upstream proxy.
type ProxyStage struct {
	proxyURL string
}

func NewProxyStage(proxyURL string) ProxyStage {
	return ProxyStage{proxyURL: proxyURL}
}

func (ProxyStage) Name() string { return "proxy" }

func (s ProxyStage) Intercept(_ context.Context, req *Request) error {
	if s.proxyURL != "" {
		req.Proxy = s.proxyURL
	}
	return nil
}

// UserAgentStage sets a uniformly random user agent from the pool.
type UserAgentStage struct {
	agents []string
}

func NewUserAgentStage(agents []string) UserAgentStage {
	return UserAgentStage{agents: agents}
}

func (UserAgentStage) Name() string { return "user_agent" }

func (s UserAgentStage) Intercept(_ context.Context, req *Request) error {
	ua := FallbackUserAgent
	if len(s.agents) > 0 {
		ua = s.agents[rand.IntN(len(s.agents))]
	}
	req.Header.Set("User-Agent", ua)
	return nil
}

// HeaderStage applies a uniformly random header set, restricted to the
// allow-list. A pooled set carrying user-agent overrides UserAgentStage;
// the fallback set never does.
type HeaderStage struct {
	sets []map[string]string
}

func NewHeaderStage(sets []map[string]string) HeaderStage {
	return HeaderStage{sets: sets}
}

func (HeaderStage) Name() string { return "headers" }

func (s HeaderStage) Intercept(_ context.Context, req *Request) error {
	set, fallback := FallbackHeaders, true
	if len(s.sets) > 0 {
		set, fallback = s.sets[rand.IntN(len(s.sets))], false
	}
	for _, key := range allowedHeaders {
		if fallback && key == "user-agent" {
			continue
		}
		if v := lookupFold(set, key); v != "" {
			req.Header.Set(key, v)
		}
	}
	return nil
}

// BrowserSyncStage copies the final identity into the browser profile of
// rendered requests.
type BrowserSyncStage struct{}

func (BrowserSyncStage) Name() string { return "browser_sync" }

func (BrowserSyncStage) Intercept(_ context.Context, req *Request) error {
	if !req.Render {
		return nil
	}
	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		headers[k] = req.Header.Get(k)
	}
	req.Browser = BrowserProfile{
		UserAgent: req.Header.Get("User-Agent"),
		Headers:   headers,
		Proxy:     req.Proxy,
	}
	return nil
}

func lookupFold(set map[string]string, key string) string {
	if v, ok := set[key]; ok {
		return v
	}
	for k, v := range set {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
