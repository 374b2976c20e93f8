package intercept

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Pools are the identities fetched once per run. Empty pools make the stages
// use their static fallbacks.
type Pools struct {
	UserAgents []string
	HeaderSets []map[string]string
}

// FingerprintConfig points at the user-agent and header-set supply.
type FingerprintConfig struct {
	APIKey            string
	UserAgentEndpoint string
	HeadersEndpoint   string
	NumResults        int
	Browsers          string
}

// FingerprintClient fetches identity pools from a ScrapeOps-compatible API.
type FingerprintClient struct {
	cfg    FingerprintConfig
	client *http.Client
	logger *zap.Logger
}

func NewFingerprintClient(cfg FingerprintConfig, client *http.Client, logger *zap.Logger) *FingerprintClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FingerprintClient{cfg: cfg, client: client, logger: logger}
}

// LoadPools fetches both pools. Failures are logged and leave that pool
// empty; LoadPools never fails the run.
func (c *FingerprintClient) LoadPools(ctx context.Context) Pools {
	var pools Pools
	if c.cfg.APIKey == "" {
		c.logger.Info("fingerprint API key not set, using static identity")
		return pools
	}

	var agents []string
	if err := c.get(ctx, c.cfg.UserAgentEndpoint, &agents); err != nil {
		c.logger.Warn("failed to load user agents, using fallback", zap.Error(err))
	} else {
		pools.UserAgents = agents
	}

	var sets []map[string]string
	if err := c.get(ctx, c.cfg.HeadersEndpoint, &sets); err != nil {
		c.logger.Warn("failed to load header sets, using fallback", zap.Error(err))
	} else {
		pools.HeaderSets = sets
	}

	c.logger.Info("identity pools loaded",
		zap.Int("user_agents", len(pools.UserAgents)),
		zap.Int("header_sets", len(pools.HeaderSets)),
	)
	return pools
}

func (c *FingerprintClient) get(ctx context.Context, endpoint string, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("num_results", strconv.Itoa(c.cfg.NumResults))
	q.Set("browsers", c.cfg.Browsers)
	q.Set("device_types", "desktop")
	q.Set("os", "windows,macos,linux")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
