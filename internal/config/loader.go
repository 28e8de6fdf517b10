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
// built-in defaults, applies LIQWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LIQWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LIQWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LIQWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIQWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIQWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIQWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIQWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIQWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIQWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIQWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIQWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LIQWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LIQWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIQWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIQWATCH_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "LIQWATCH_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LIQWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQWATCH_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LIQWATCH_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "LIQWATCH_CHAIN_ID")

	// ── Adapters ──
	setBool(&cfg.Aave.Enabled, "LIQWATCH_AAVE_ENABLED")
	setStr(&cfg.Aave.SubgraphURL, "LIQWATCH_AAVE_SUBGRAPH_URL")
	setStr(&cfg.Aave.APIKey, "LIQWATCH_AAVE_API_KEY")
	setBool(&cfg.Compound.Enabled, "LIQWATCH_COMPOUND_ENABLED")
	setStr(&cfg.Compound.APIURL, "LIQWATCH_COMPOUND_API_URL")

	// ── Price feed ──
	setBool(&cfg.PriceFeed.Enabled, "LIQWATCH_PRICE_FEED_ENABLED")
	setStr(&cfg.PriceFeed.WsURL, "LIQWATCH_PRICE_FEED_WS_URL")
	setStringSlice(&cfg.PriceFeed.Products, "LIQWATCH_PRICE_FEED_PRODUCTS")
	setFloat64(&cfg.PriceFeed.MovePct, "LIQWATCH_PRICE_FEED_MOVE_PCT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "LIQWATCH_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.FetchTimeout, "LIQWATCH_MONITOR_FETCH_TIMEOUT")
	setFloat64(&cfg.Monitor.Epsilon, "LIQWATCH_MONITOR_EPSILON")

	// ── Alerting ──
	setDuration(&cfg.Alerting.Cooldown, "LIQWATCH_ALERTING_COOLDOWN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIQWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.SMTPHost, "LIQWATCH_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "LIQWATCH_NOTIFY_SMTP_PORT")
	setStr(&cfg.Notify.SMTPUser, "LIQWATCH_NOTIFY_SMTP_USER")
	setStr(&cfg.Notify.SMTPPassword, "LIQWATCH_NOTIFY_SMTP_PASSWORD")
	setStr(&cfg.Notify.EmailFrom, "LIQWATCH_NOTIFY_EMAIL_FROM")
	setStringSlice(&cfg.Notify.EmailTo, "LIQWATCH_NOTIFY_EMAIL_TO")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LIQWATCH_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "LIQWATCH_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "LIQWATCH_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIQWATCH_MODE")
	setStr(&cfg.LogLevel, "LIQWATCH_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
