// Package config defines the top-level configuration for the sharescan
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SHARESCAN_* environment
// variables.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Contracts ContractsConfig `toml:"contracts"`
	Scan      ScanConfig      `toml:"scan"`
	Metadata  MetadataConfig  `toml:"metadata"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ProviderConfig holds chain data provider (RPC + transfer indexing)
// parameters.
type ProviderConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	APIKey         string   `toml:"api_key"`
	PageSize       int      `toml:"page_size"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	HTTPTimeout    duration `toml:"http_timeout"`
}

// ContractsConfig holds the protocol contract allow-lists. All addresses are
// compared lower-cased.
type ContractsConfig struct {
	// ShareTokens are the ERC-1155 player-share contracts to index.
	ShareTokens []string `toml:"share_tokens"`
	// Stablecoins are the ERC-20 currency contracts to index.
	Stablecoins []string `toml:"stablecoins"`
	// Pairs are the AMM pair contracts whose trade events are decoded.
	Pairs []string `toml:"pairs"`
	// PromotionIssuers are the contracts that grant free shares.
	PromotionIssuers []string `toml:"promotion_issuers"`
}

// ScanConfig holds scan budgets, caps, and concurrency limits.
type ScanConfig struct {
	DefaultBudget       duration `toml:"default_budget"`
	MaxPages            int      `toml:"max_pages"`
	MaxActivity         int      `toml:"max_activity"`
	ReceiptConcurrency  int      `toml:"receipt_concurrency"`
	MetadataConcurrency int      `toml:"metadata_concurrency"`
	PriceBatchSize      int      `toml:"price_batch_size"`
	ResultTTL           duration `toml:"result_ttl"`
	JobTTL              duration `toml:"job_ttl"`
}

// MetadataConfig holds token metadata resolution parameters.
type MetadataConfig struct {
	Enabled     bool   `toml:"enabled"`
	IPFSGateway string `toml:"ipfs_gateway"`
	URITemplate string `toml:"uri_template"`
	HTTPTimeout duration `toml:"http_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the scan
// archive.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the full-scan
// payload archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the API when non-empty; clients send it as a Bearer
	// token or X-API-Key header.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. Zero disables
	// rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "8s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			PageSize:       1000,
			MaxRetries:     3,
			RetryBaseDelay: duration{300 * time.Millisecond},
			HTTPTimeout:    duration{30 * time.Second},
		},
		Scan: ScanConfig{
			DefaultBudget:       duration{8 * time.Second},
			MaxPages:            10,
			MaxActivity:         200,
			ReceiptConcurrency:  4,
			MetadataConcurrency: 6,
			PriceBatchSize:      100,
			ResultTTL:           duration{15 * time.Minute},
			JobTTL:              duration{24 * time.Hour},
		},
		Metadata: MetadataConfig{
			Enabled:     true,
			IPFSGateway: "https://ipfs.io/ipfs/",
			URITemplate: "",
			HTTPTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "sharescan",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sharescan-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"scan":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Provider
	if c.Provider.RPCURL == "" {
		errs = append(errs, "provider: rpc_url must not be empty")
	}
	if c.Provider.PageSize < 1 || c.Provider.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("provider: page_size must be 1-1000, got %d", c.Provider.PageSize))
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, "provider: max_retries must be >= 0")
	}

	// Contracts
	if len(c.Contracts.ShareTokens) == 0 {
		errs = append(errs, "contracts: at least one share_tokens entry is required")
	}
	if len(c.Contracts.Stablecoins) == 0 {
		errs = append(errs, "contracts: at least one stablecoins entry is required")
	}
	for _, addr := range c.allContracts() {
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
			errs = append(errs, fmt.Sprintf("contracts: %q is not a valid address", addr))
		}
	}

	// Scan
	if c.Scan.DefaultBudget.Duration <= 0 {
		errs = append(errs, "scan: default_budget must be > 0")
	}
	if c.Scan.MaxPages < 1 {
		errs = append(errs, "scan: max_pages must be >= 1")
	}
	if c.Scan.MaxActivity < 1 {
		errs = append(errs, "scan: max_activity must be >= 1")
	}
	if c.Scan.ReceiptConcurrency < 1 {
		errs = append(errs, "scan: receipt_concurrency must be >= 1")
	}
	if c.Scan.MetadataConcurrency < 1 {
		errs = append(errs, "scan: metadata_concurrency must be >= 1")
	}
	if c.Scan.PriceBatchSize < 1 || c.Scan.PriceBatchSize > 100 {
		errs = append(errs, fmt.Sprintf("scan: price_batch_size must be 1-100, got %d", c.Scan.PriceBatchSize))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) allContracts() []string {
	var all []string
	all = append(all, c.Contracts.ShareTokens...)
	all = append(all, c.Contracts.Stablecoins...)
	all = append(all, c.Contracts.Pairs...)
	all = append(all, c.Contracts.PromotionIssuers...)
	return all
}
