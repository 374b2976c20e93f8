package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogDir     string `mapstructure:"LOG_DIR"`

	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	ListingsTable   string `mapstructure:"LISTINGS_TABLE"`
	RejectionsTable string `mapstructure:"REJECTIONS_TABLE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	DedupSetKey   string `mapstructure:"DEDUP_SET_KEY"`

	StartURL      string   `mapstructure:"START_URL"`
	ExcludedPaths []string `mapstructure:"EXCLUDED_PATHS"`
	SelectorsFile string   `mapstructure:"SELECTORS_FILE"`
	RobotsObey    bool     `mapstructure:"ROBOTSTXT_OBEY"`

	ProxyURL                   string `mapstructure:"PROXY_URL"`
	ScrapeOpsAPIKey            string `mapstructure:"SCRAPEOPS_API_KEY"`
	ScrapeOpsUserAgentEndpoint string `mapstructure:"SCRAPEOPS_USER_AGENT_ENDPOINT"`
	ScrapeOpsHeadersEndpoint   string `mapstructure:"SCRAPEOPS_HEADERS_ENDPOINT"`
	ScrapeOpsNumResults        int    `mapstructure:"SCRAPEOPS_NUM_RESULTS"`
	FingerprintBrowsers        string `mapstructure:"FINGERPRINT_BROWSERS"`

	ConcurrentRequests          int           `mapstructure:"CONCURRENT_REQUESTS"`
	ConcurrentRequestsPerDomain int           `mapstructure:"CONCURRENT_REQUESTS_PER_DOMAIN"`
	ConcurrentRequestsPerIP     int           `mapstructure:"CONCURRENT_REQUESTS_PER_IP"`
	DownloadDelay               time.Duration `mapstructure:"DOWNLOAD_DELAY"`
	DownloadTimeout             time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	RetryTimes                  int           `mapstructure:"RETRY_TIMES"`
	RetryHTTPCodes              []int         `mapstructure:"RETRY_HTTP_CODES"`

	Browser BrowserConfig `mapstructure:",squash"`

	SpiderTime      string        `mapstructure:"SPIDER_TIME"`
	DumpTime        string        `mapstructure:"DUMP_TIME"`
	DumpDir         string        `mapstructure:"DUMP_DIR"`
	RunSpiderNow    bool          `mapstructure:"RUN_SPIDER_NOW"`
	StopGracePeriod time.Duration `mapstructure:"STOP_GRACE_PERIOD"`

	S3 S3Config `mapstructure:",squash"`
}

// BrowserConfig sizes the headless browser pool and bounds every wait of the
// detail-page extraction.
type BrowserConfig struct {
	Headless            bool          `mapstructure:"BROWSER_HEADLESS"`
	MaxContexts         int           `mapstructure:"BROWSER_MAX_CONTEXTS"`
	MaxPagesPerContext  int           `mapstructure:"BROWSER_MAX_PAGES_PER_CONTEXT"`
	NavigationTimeout   time.Duration `mapstructure:"NAVIGATION_TIMEOUT"`
	ConsentTimeout      time.Duration `mapstructure:"CONSENT_TIMEOUT"`
	SellerInfoTimeout   time.Duration `mapstructure:"SELLER_INFO_TIMEOUT"`
	PhoneButtonTimeout  time.Duration `mapstructure:"PHONE_BUTTON_TIMEOUT"`
	PhoneEnabledTimeout time.Duration `mapstructure:"PHONE_ENABLED_TIMEOUT"`
	PhoneClickTimeout   time.Duration `mapstructure:"PHONE_CLICK_TIMEOUT"`
	PhoneSettleDelay    time.Duration `mapstructure:"PHONE_SETTLE_DELAY"`
	PhonePollTimeout    time.Duration `mapstructure:"PHONE_POLL_TIMEOUT"`
	PhoneReadTimeout    time.Duration `mapstructure:"PHONE_READ_TIMEOUT"`
}

// S3Config is optional; backups stay local when Bucket is empty.
type S3Config struct {
	Bucket          string `mapstructure:"S3_BUCKET"`
	Region          string `mapstructure:"S3_REGION"`
	Endpoint        string `mapstructure:"S3_ENDPOINT"`
	AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
}

// LoadFile reads configuration from the env file at path (if present) and
// the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// The file is optional; production configures everything through the environment.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "logs")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LISTINGS_TABLE", "car_products")
	v.SetDefault("REJECTIONS_TABLE", "rejected_urls")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEDUP_SET_KEY", "scraped_urls")

	v.SetDefault("START_URL", "https://auto.ria.com/uk/car/used/")
	v.SetDefault("EXCLUDED_PATHS", []string{"newauto"})
	v.SetDefault("SELECTORS_FILE", "")
	v.SetDefault("ROBOTSTXT_OBEY", true)

	v.SetDefault("PROXY_URL", "")
	v.SetDefault("SCRAPEOPS_API_KEY", "")
	v.SetDefault("SCRAPEOPS_USER_AGENT_ENDPOINT", "https://headers.scrapeops.io/v1/user-agents")
	v.SetDefault("SCRAPEOPS_HEADERS_ENDPOINT", "https://headers.scrapeops.io/v1/browser-headers")
	v.SetDefault("SCRAPEOPS_NUM_RESULTS", 5)
	v.SetDefault("FINGERPRINT_BROWSERS", "chrome")

	v.SetDefault("CONCURRENT_REQUESTS", 6)
	v.SetDefault("CONCURRENT_REQUESTS_PER_DOMAIN", 4)
	v.SetDefault("CONCURRENT_REQUESTS_PER_IP", 1)
	v.SetDefault("DOWNLOAD_DELAY", time.Second)
	v.SetDefault("DOWNLOAD_TIMEOUT", 30*time.Second)
	v.SetDefault("RETRY_TIMES", 3)
	v.SetDefault("RETRY_HTTP_CODES", []int{500, 502, 503, 504, 522, 524, 408, 429, 403})

	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("BROWSER_MAX_CONTEXTS", 4)
	v.SetDefault("BROWSER_MAX_PAGES_PER_CONTEXT", 4)
	v.SetDefault("NAVIGATION_TIMEOUT", 60*time.Second)
	v.SetDefault("CONSENT_TIMEOUT", 3*time.Second)
	v.SetDefault("SELLER_INFO_TIMEOUT", 10*time.Second)
	v.SetDefault("PHONE_BUTTON_TIMEOUT", 5*time.Second)
	v.SetDefault("PHONE_ENABLED_TIMEOUT", 3*time.Second)
	v.SetDefault("PHONE_CLICK_TIMEOUT", 5*time.Second)
	v.SetDefault("PHONE_SETTLE_DELAY", time.Second)
	v.SetDefault("PHONE_POLL_TIMEOUT", 10*time.Second)
	v.SetDefault("PHONE_READ_TIMEOUT", 3*time.Second)

	v.SetDefault("SPIDER_TIME", "03:00")
	v.SetDefault("DUMP_TIME", "05:00")
	v.SetDefault("DUMP_DIR", "dumps")
	v.SetDefault("RUN_SPIDER_NOW", false)
	v.SetDefault("STOP_GRACE_PERIOD", 30*time.Second)

	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	u, err := url.Parse(c.StartURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid START_URL %q", c.StartURL)
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid PROXY_URL: %w", err)
		}
	}
	if c.ConcurrentRequests < 1 || c.ConcurrentRequestsPerDomain < 1 || c.ConcurrentRequestsPerIP < 1 {
		return fmt.Errorf("concurrency caps must be positive")
	}
	if c.Browser.MaxContexts < 1 || c.Browser.MaxPagesPerContext < 1 {
		return fmt.Errorf("browser pool sizes must be positive")
	}
	if c.RetryTimes < 0 {
		return fmt.Errorf("RETRY_TIMES must not be negative")
	}
	return nil
}
