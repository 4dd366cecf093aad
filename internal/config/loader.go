package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SHARESCAN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SHARESCAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Provider ──
	setStr(&cfg.Provider.RPCURL, "SHARESCAN_PROVIDER_RPC_URL")
	setStr(&cfg.Provider.APIKey, "SHARESCAN_PROVIDER_API_KEY")
	setInt(&cfg.Provider.PageSize, "SHARESCAN_PROVIDER_PAGE_SIZE")
	setInt(&cfg.Provider.MaxRetries, "SHARESCAN_PROVIDER_MAX_RETRIES")
	setDuration(&cfg.Provider.RetryBaseDelay, "SHARESCAN_PROVIDER_RETRY_BASE_DELAY")
	setDuration(&cfg.Provider.HTTPTimeout, "SHARESCAN_PROVIDER_HTTP_TIMEOUT")

	// ── Contracts ──
	setStringSlice(&cfg.Contracts.ShareTokens, "SHARESCAN_CONTRACTS_SHARE_TOKENS")
	setStringSlice(&cfg.Contracts.Stablecoins, "SHARESCAN_CONTRACTS_STABLECOINS")
	setStringSlice(&cfg.Contracts.Pairs, "SHARESCAN_CONTRACTS_PAIRS")
	setStringSlice(&cfg.Contracts.PromotionIssuers, "SHARESCAN_CONTRACTS_PROMOTION_ISSUERS")

	// ── Scan ──
	setDuration(&cfg.Scan.DefaultBudget, "SHARESCAN_SCAN_DEFAULT_BUDGET")
	setInt(&cfg.Scan.MaxPages, "SHARESCAN_SCAN_MAX_PAGES")
	setInt(&cfg.Scan.MaxActivity, "SHARESCAN_SCAN_MAX_ACTIVITY")
	setInt(&cfg.Scan.ReceiptConcurrency, "SHARESCAN_SCAN_RECEIPT_CONCURRENCY")
	setInt(&cfg.Scan.MetadataConcurrency, "SHARESCAN_SCAN_METADATA_CONCURRENCY")
	setInt(&cfg.Scan.PriceBatchSize, "SHARESCAN_SCAN_PRICE_BATCH_SIZE")
	setDuration(&cfg.Scan.ResultTTL, "SHARESCAN_SCAN_RESULT_TTL")
	setDuration(&cfg.Scan.JobTTL, "SHARESCAN_SCAN_JOB_TTL")

	// ── Metadata ──
	setBool(&cfg.Metadata.Enabled, "SHARESCAN_METADATA_ENABLED")
	setStr(&cfg.Metadata.IPFSGateway, "SHARESCAN_METADATA_IPFS_GATEWAY")
	setStr(&cfg.Metadata.URITemplate, "SHARESCAN_METADATA_URI_TEMPLATE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SHARESCAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SHARESCAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHARESCAN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SHARESCAN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SHARESCAN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SHARESCAN_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SHARESCAN_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SHARESCAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SHARESCAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SHARESCAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SHARESCAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SHARESCAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SHARESCAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SHARESCAN_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SHARESCAN_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SHARESCAN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SHARESCAN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SHARESCAN_S3_REGION")
	setStr(&cfg.S3.Bucket, "SHARESCAN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SHARESCAN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SHARESCAN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SHARESCAN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SHARESCAN_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SHARESCAN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SHARESCAN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SHARESCAN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SHARESCAN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SHARESCAN_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "SHARESCAN_MODE")
	setStr(&cfg.LogLevel, "SHARESCAN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
