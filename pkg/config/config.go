package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for followsync
type Config struct {
	// Upstream follower-list API
	API APIConfig `yaml:"api" json:"api"`

	// Pagination behaviour of a single harvest
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Sync gating and retention
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Persistence backend
	Store StoreConfig `yaml:"store" json:"store"`

	// HTTP surface
	Server ServerConfig `yaml:"server" json:"server"`

	// How requests are mapped to an account id
	Identity IdentityConfig `yaml:"identity" json:"identity"`

	// Periodic background syncs
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Outbound request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Prometheus exposition
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig describes the upstream social-graph API
type APIConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	Variant    string `yaml:"variant" json:"variant"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	AuthHeader string `yaml:"auth_header" json:"auth_header"`
	AuthScheme string `yaml:"auth_scheme" json:"auth_scheme"`
	PageSize   int    `yaml:"page_size" json:"page_size"`
	// PageSizeParam names the v2 query parameter carrying the page size
	PageSizeParam string        `yaml:"page_size_param" json:"page_size_param"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
}

// HarvestConfig holds pagination limits
type HarvestConfig struct {
	MaxPages         int           `yaml:"max_pages" json:"max_pages"`
	PageDelay        time.Duration `yaml:"page_delay" json:"page_delay"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" json:"rate_limit_backoff"`
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	Retention         time.Duration `yaml:"retention" json:"retention"`
	LockTTL           time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
	FollowingCacheTTL time.Duration `yaml:"following_cache_ttl" json:"following_cache_ttl"`
}

// StoreConfig selects and configures the key-value backend
type StoreConfig struct {
	Driver        string `yaml:"driver" json:"driver"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	FilePath      string `yaml:"file_path" json:"file_path"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	SyncTimeout  time.Duration `yaml:"sync_timeout" json:"sync_timeout"`
}

// IdentityConfig selects how the caller's account id is resolved
type IdentityConfig struct {
	Mode      string `yaml:"mode" json:"mode"`
	Header    string `yaml:"header" json:"header"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	// TrustHeader allows header mode on a non-loopback address, for servers
	// behind a proxy that sets the header itself.
	TrustHeader bool `yaml:"trust_header" json:"trust_header"`
}

// SchedulerConfig holds background sync settings
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Workers  int           `yaml:"workers" json:"workers"`
	Accounts []string      `yaml:"accounts" json:"accounts"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Strategy is "smooth" (token bucket) or "sliding_window" for APIs
	// with a hard per-minute quota.
	Strategy          string `yaml:"strategy" json:"strategy"`
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size" json:"burst_size"`
}

// MetricsConfig holds metrics exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://api.tweetapi.com/tw-v2",
			Variant:       "v2",
			PageSize:      200,
			PageSizeParam: "max_results",
			Timeout:       30 * time.Second,
			UserAgent:     "followsync/1.0",
		},
		Harvest: HarvestConfig{
			MaxPages:         50,
			PageDelay:        500 * time.Millisecond,
			RateLimitBackoff: 30 * time.Second,
		},
		Sync: SyncConfig{
			MinInterval:       0,
			Retention:         30 * 24 * time.Hour,
			LockTTL:           10 * time.Minute,
			FollowingCacheTTL: time.Hour,
		},
		Store: StoreConfig{
			Driver:    "redis",
			RedisAddr: "localhost:6379",
			FilePath:  filepath.Join(os.Getenv("HOME"), ".followsync", "state.json"),
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 10 * time.Minute,
			SyncTimeout:  5 * time.Minute,
		},
		Identity: IdentityConfig{
			Mode:   "header",
			Header: "X-Account-ID",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Interval: 12 * time.Hour,
			Workers:  2,
		},
		RateLimit: RateLimitConfig{
			Strategy:          "smooth",
			RequestsPerMinute: 120,
			BurstSize:         5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Upstream API
	if v := os.Getenv("FOLLOWSYNC_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("FOLLOWSYNC_API_VARIANT"); v != "" {
		c.API.Variant = v
	}
	if v := os.Getenv("FOLLOWSYNC_API_KEY"); v != "" {
		c.API.APIKey = v
	} else if v := os.Getenv("TWEETAPI_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("FOLLOWSYNC_API_AUTH_HEADER"); v != "" {
		c.API.AuthHeader = v
	}

	// Harvest
	if v := os.Getenv("FOLLOWSYNC_MAX_PAGES"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val > 0 {
			c.Harvest.MaxPages = val
		}
	}
	if err := envDuration("FOLLOWSYNC_PAGE_DELAY", &c.Harvest.PageDelay); err != nil {
		return err
	}

	// Sync
	if err := envDuration("FOLLOWSYNC_MIN_INTERVAL", &c.Sync.MinInterval); err != nil {
		return err
	}

	// Store
	if v := os.Getenv("FOLLOWSYNC_RATE_LIMIT_STRATEGY"); v != "" {
		c.RateLimit.Strategy = v
	}

	if v := os.Getenv("FOLLOWSYNC_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("FOLLOWSYNC_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("FOLLOWSYNC_REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv("FOLLOWSYNC_STORE_FILE"); v != "" {
		c.Store.FilePath = v
	}

	// Server and identity
	if v := os.Getenv("FOLLOWSYNC_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FOLLOWSYNC_IDENTITY_MODE"); v != "" {
		c.Identity.Mode = v
	}
	if v := os.Getenv("FOLLOWSYNC_JWT_SECRET"); v != "" {
		c.Identity.JWTSecret = v
	}
	if v := os.Getenv("FOLLOWSYNC_IDENTITY_TRUST_HEADER"); v != "" {
		c.Identity.TrustHeader = v == "true" || v == "1"
	}

	// Scheduler
	if v := os.Getenv("FOLLOWSYNC_SCHEDULER_ACCOUNTS"); v != "" {
		c.Scheduler.Accounts = splitList(v)
		c.Scheduler.Enabled = true
	}

	// Logging level
	if v := os.Getenv("FOLLOWSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".followsync.yaml",
		".followsync.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "followsync", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "followsync", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".followsync.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Upstream
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	switch strings.ToLower(c.API.Variant) {
	case "v1", "v2":
	default:
		errs = append(errs, fmt.Errorf("unknown api variant %q (want v1 or v2)", c.API.Variant))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}

	// Harvest
	if c.Harvest.MaxPages <= 0 {
		errs = append(errs, errors.New("max pages must be positive"))
	}
	if c.Harvest.PageDelay < 0 {
		errs = append(errs, errors.New("page delay cannot be negative"))
	}
	if c.Harvest.RateLimitBackoff < 0 {
		errs = append(errs, errors.New("rate limit backoff cannot be negative"))
	}

	// Sync
	if c.Sync.MinInterval < 0 {
		errs = append(errs, errors.New("min interval cannot be negative"))
	}
	if c.Sync.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}

	// Store
	switch c.Store.Driver {
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis store"))
		}
	case "file":
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("file path is required for the file store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	// Identity
	switch c.Identity.Mode {
	case "header":
		if c.Identity.Header == "" {
			errs = append(errs, errors.New("identity header is required in header mode"))
		}
		if !c.Identity.TrustHeader && !IsLoopback(c.Server.Addr) {
			errs = append(errs, fmt.Errorf("header identity on %q lets any client pick an account: bind to loopback, use jwt mode or set identity.trust_header", c.Server.Addr))
		}
	case "jwt":
		if c.Identity.JWTSecret == "" {
			errs = append(errs, errors.New("jwt secret is required in jwt mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity mode %q", c.Identity.Mode))
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			errs = append(errs, errors.New("scheduler interval must be positive"))
		}
		if c.Scheduler.Workers <= 0 {
			errs = append(errs, errors.New("scheduler workers must be positive"))
		}
	}

	// Rate limiting
	switch c.RateLimit.Strategy {
	case "", "smooth", "sliding_window":
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// IsLoopback reports whether a listen address only accepts local
// connections. An empty host listens on every interface.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["api-key"].(string); ok && v != "" {
		c.API.APIKey = v
	}
	if v, ok := flags["api-url"].(string); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := flags["api-variant"].(string); ok && v != "" {
		c.API.Variant = v
	}
	if v, ok := flags["max-pages"].(int); ok && v > 0 {
		c.Harvest.MaxPages = v
	}
	if v, ok := flags["store"].(string); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := flags["redis-addr"].(string); ok && v != "" {
		c.Store.RedisAddr = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".followsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
