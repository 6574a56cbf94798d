package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob of the fill-reconciliation daemon. Values come
// from an optional YAML file overlaid by environment variables; the env
// always wins so deployments can override a checked-in file.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	APIPort     string `yaml:"api_port"`

	Pair         string  `yaml:"pair"`
	MinOrderSize float64 `yaml:"min_order_size"`

	PollIntervalSec int `yaml:"poll_interval_sec"`
	FetchPageSize   int `yaml:"fetch_page_size"`
	BufferSize      int `yaml:"buffer_size"`
	BatchSize       int `yaml:"batch_size"`
	Concurrency     int `yaml:"concurrency"`
	MaxRefillPages  int `yaml:"max_refill_pages"`

	OKXAPIKey         string `yaml:"okx_api_key"`
	OKXSecret         string `yaml:"okx_secret"`
	OKXPassphrase     string `yaml:"okx_passphrase"`
	OKXBaseURL        string `yaml:"okx_base_url"`
	OKXMinCreatedMs   int64  `yaml:"okx_min_created_ms"`
	OKXPurgeOnConsume bool   `yaml:"okx_purge_on_consume"`

	SnowtraceAPIKey  string `yaml:"snowtrace_api_key"`
	SnowtraceBaseURL string `yaml:"snowtrace_base_url"`
	USDTContract     string `yaml:"usdt_contract_address"`
	WalletAddress    string `yaml:"tj_wallet_address"`

	BaseToken          string `yaml:"base_token"`
	QuoteToken         string `yaml:"quote_token"`
	BaseTokenDecimals  int32  `yaml:"base_token_decimals"`
	QuoteTokenDecimals int32  `yaml:"quote_token_decimals"`

	AdminJWTSecret string `yaml:"admin_jwt_secret"`
}

// Defaults returns a config with the values the system ships with. The
// 1020 size floor and the 2023-04-17 OKX cutoff are inherited from the
// placement system's historical deployment.
func Defaults() *Config {
	return &Config{
		APIPort:            "8080",
		Pair:               "AVAX/USDT",
		MinOrderSize:       1020,
		PollIntervalSec:    90,
		FetchPageSize:      500,
		BufferSize:         1000,
		BatchSize:          10,
		Concurrency:        5,
		MaxRefillPages:     25,
		OKXBaseURL:         "https://www.okx.com",
		OKXMinCreatedMs:    1681765123000,
		OKXPurgeOnConsume:  true,
		SnowtraceBaseURL:   "https://api.snowtrace.io/api",
		BaseToken:          "AVAX",
		QuoteToken:         "USDT",
		BaseTokenDecimals:  18,
		QuoteTokenDecimals: 6,
	}
}

// Load reads the YAML file at path (if path is non-empty) on top of the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.DatabaseURL, "DATABASE_URL")
	setStr(&c.APIPort, "PORT")
	setStr(&c.Pair, "PAIR")
	setFloat(&c.MinOrderSize, "MIN_ORDER_SIZE")
	setInt(&c.PollIntervalSec, "POLL_INTERVAL_SEC")
	setInt(&c.FetchPageSize, "FETCH_PAGE_SIZE")
	setInt(&c.BufferSize, "BUFFER_SIZE")
	setInt(&c.BatchSize, "BATCH_SIZE")
	setInt(&c.Concurrency, "CONCURRENCY")
	setInt(&c.MaxRefillPages, "MAX_REFILL_PAGES")

	setStr(&c.OKXAPIKey, "OKX_API_KEY")
	setStr(&c.OKXSecret, "OKX_SECRET")
	setStr(&c.OKXPassphrase, "OKX_PASSPHRASE")
	setStr(&c.OKXBaseURL, "OKX_BASE_URL")
	setInt64(&c.OKXMinCreatedMs, "OKX_MIN_CREATED_MS")
	if v := os.Getenv("OKX_PURGE_ON_CONSUME"); v != "" {
		c.OKXPurgeOnConsume = v != "false"
	}

	setStr(&c.SnowtraceAPIKey, "SNOWTRACE_API_KEY")
	setStr(&c.SnowtraceBaseURL, "SNOWTRACE_API_URL")
	setStr(&c.USDTContract, "USDT_CONTRACT_ADDRESS")
	setStr(&c.WalletAddress, "TJ_WALLET_ADDRESS")

	setStr(&c.BaseToken, "BASE_TOKEN")
	setStr(&c.QuoteToken, "QUOTE_TOKEN")
	setInt32(&c.BaseTokenDecimals, "BASE_TOKEN_DECIMALS")
	setInt32(&c.QuoteTokenDecimals, "QUOTE_TOKEN_DECIMALS")

	setStr(&c.AdminJWTSecret, "ADMIN_JWT_SECRET")
}

// PollInterval returns the tailing reader tick as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// databaseURLFromParts assembles a postgres URL from the DB_* variables the
// original deployment used. Pool size is applied separately by the repository.
func databaseURLFromParts() string {
	user := os.Getenv("DB_USER")
	pass := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	name := os.Getenv("DB_NAME")
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(user), url.QueryEscape(pass), host, port, name)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
