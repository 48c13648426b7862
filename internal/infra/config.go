package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"copytrade_go/internal/domain"
)

// Config holds every setting of the application.
// After LoadConfig reads the file, sensitive values are overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		BaseURL     string `yaml:"base_url"`
		Token       string `yaml:"token"`
		TimeoutSec  int    `yaml:"timeout_sec"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"api"`

	Account struct {
		MasterID              string `yaml:"master_id"`
		MembershipIntervalSec int    `yaml:"membership_interval_sec"`
	} `yaml:"account"`

	Feed struct {
		WSURL           string `yaml:"ws_url"`
		Subject         string `yaml:"subject"`
		BufferCapacity  int    `yaml:"buffer_capacity"`
		PageSize        int    `yaml:"page_size"`
		SortBy          string `yaml:"sort_by"`
		SortDir         string `yaml:"sort_dir"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		ReconnectBaseMS int    `yaml:"reconnect_base_ms"`
		ReconnectMaxSec int    `yaml:"reconnect_max_sec"`
	} `yaml:"feed"`

	Balance struct {
		MaxConcurrent      int `yaml:"max_concurrent"`
		FetchTimeoutSec    int `yaml:"fetch_timeout_sec"`
		RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	} `yaml:"balance"`

	Price struct {
		RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	} `yaml:"price"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

// LoadConfig reads .env (if present) and the YAML file at path, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML, applies environment overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasScheme(c.API.BaseURL, "http://", "https://") {
		return invalid("api.base_url", c.API.BaseURL)
	}
	if !hasScheme(c.Feed.WSURL, "ws://", "wss://") {
		return invalid("feed.ws_url", c.Feed.WSURL)
	}
	if c.Account.MasterID == "" {
		return invalid("account.master_id", "")
	}
	if c.Feed.BufferCapacity < 0 {
		return invalid("feed.buffer_capacity", fmt.Sprint(c.Feed.BufferCapacity))
	}
	if c.Feed.PageSize < 0 {
		return invalid("feed.page_size", fmt.Sprint(c.Feed.PageSize))
	}
	switch strings.ToLower(c.Feed.SortDir) {
	case "", string(domain.SortAsc), string(domain.SortDesc):
	default:
		return invalid("feed.sort_dir", c.Feed.SortDir)
	}
	if c.Balance.MaxConcurrent < 0 {
		return invalid("balance.max_concurrent", fmt.Sprint(c.Balance.MaxConcurrent))
	}
	return nil
}

func invalid(field, value string) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf("invalid value %q", value)}
}

func hasScheme(s string, schemes ...string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

// APITimeout returns the HTTP client timeout, 10s when unset.
func (c *Config) APITimeout() time.Duration {
	return secondsOr(c.API.TimeoutSec, 10*time.Second)
}

// PollInterval returns the history poll interval. Zero disables polling.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollIntervalSec) * time.Second
}

// ReconnectBase returns the push stream reconnect backoff base.
func (c *Config) ReconnectBase() time.Duration {
	if c.Feed.ReconnectBaseMS <= 0 {
		return DefaultBackoffBase
	}
	return time.Duration(c.Feed.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the push stream reconnect backoff cap.
func (c *Config) ReconnectMax() time.Duration {
	return secondsOr(c.Feed.ReconnectMaxSec, DefaultBackoffMax)
}

// BalanceFetchTimeout bounds one balance fetch. Zero means no extra bound.
func (c *Config) BalanceFetchTimeout() time.Duration {
	return time.Duration(c.Balance.FetchTimeoutSec) * time.Second
}

// BalanceInterval drives the periodic balance refresh. Zero disables it.
func (c *Config) BalanceInterval() time.Duration {
	return time.Duration(c.Balance.RefreshIntervalSec) * time.Second
}

// PriceInterval drives the periodic SOL price refresh. Zero disables it.
func (c *Config) PriceInterval() time.Duration {
	return time.Duration(c.Price.RefreshIntervalSec) * time.Second
}

// MembershipInterval drives the periodic membership refresh. Zero disables it.
func (c *Config) MembershipInterval() time.Duration {
	return time.Duration(c.Account.MembershipIntervalSec) * time.Second
}

func secondsOr(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}

// overrideWithEnv overwrites settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("COPYTRADE_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("COPYTRADE_FEED_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("COPYTRADE_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("COPYTRADE_MASTER_ID"); v != "" {
		cfg.Account.MasterID = v
	}
	if v := os.Getenv("COPYTRADE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
}
