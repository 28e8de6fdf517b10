// Package config defines the top-level configuration for the liquidation
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQWATCH_* environment
// variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	Aave      AaveConfig      `toml:"aave"`
	Compound  CompoundConfig  `toml:"compound"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Alerting  AlertingConfig  `toml:"alerting"`
	Notify    NotifyConfig    `toml:"notify"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional; with
// Enabled false the process runs without snapshot caching and distributed
// locks.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds the JSON-RPC endpoint and the Chainlink price feed
// registry. Feeds maps asset symbols to aggregator contract addresses; an
// empty map disables on-chain price verification.
type ChainConfig struct {
	RPCURL  string            `toml:"rpc_url"`
	ChainID int               `toml:"chain_id"`
	Feeds   map[string]string `toml:"feeds"`
}

// AaveConfig holds the Aave V3 subgraph endpoint.
type AaveConfig struct {
	Enabled     bool   `toml:"enabled"`
	SubgraphURL string `toml:"subgraph_url"`
	APIKey      string `toml:"api_key"`
}

// CompoundConfig holds the Compound comet API endpoint.
type CompoundConfig struct {
	Enabled bool   `toml:"enabled"`
	APIURL  string `toml:"api_url"`
}

// PriceFeedConfig holds the exchange WebSocket feed used to nudge checks on
// big price moves.
type PriceFeedConfig struct {
	Enabled  bool     `toml:"enabled"`
	WsURL    string   `toml:"ws_url"`
	Products []string `toml:"products"`
	MovePct  float64  `toml:"move_pct"`
}

// WatchConfig names one (wallet, protocol) pair to monitor.
type WatchConfig struct {
	Wallet   string `toml:"wallet"`
	Protocol string `toml:"protocol"`
}

// MonitorConfig holds the polling loop parameters.
type MonitorConfig struct {
	Interval     duration      `toml:"interval"`
	FetchTimeout duration      `toml:"fetch_timeout"`
	Epsilon      float64       `toml:"epsilon"`
	Watch        []WatchConfig `toml:"watch"`
}

// AlertingConfig holds alert dispatch parameters.
type AlertingConfig struct {
	Cooldown duration `toml:"cooldown"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`

	SMTPHost     string   `toml:"smtp_host"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUser     string   `toml:"smtp_user"`
	SMTPPassword string   `toml:"smtp_password"`
	EmailFrom    string   `toml:"email_from"`
	EmailTo      []string `toml:"email_to"`
}

// ArchiveConfig holds cold-storage retention parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "liqwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			CacheTTL:   duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "liqwatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			ChainID: 1,
			Feeds:   map[string]string{},
		},
		Aave: AaveConfig{
			Enabled:     true,
			SubgraphURL: "https://gateway.thegraph.com/api/subgraphs/id/Cd2gEDVeqnjBn1hSeqFMitw8Q1iiyV9FYUZkLNRcL87g",
		},
		Compound: CompoundConfig{
			Enabled: false,
			APIURL:  "https://v3-api.compound.finance",
		},
		PriceFeed: PriceFeedConfig{
			Enabled:  false,
			WsURL:    "wss://ws-feed.exchange.coinbase.com",
			Products: []string{"ETH-USD", "BTC-USD"},
			MovePct:  1.0,
		},
		Monitor: MonitorConfig{
			Interval:     duration{time.Minute},
			FetchTimeout: duration{30 * time.Second},
			Epsilon:      1e-6,
		},
		Alerting: AlertingConfig{
			Cooldown: duration{15 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"replay":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validProtocols enumerates the protocols a watch entry may name.
var validProtocols = map[string]bool{
	"aave-v3":     true,
	"compound-v3": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, replay, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only needed when archival is on.
	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
	}
	for symbol, addr := range c.Chain.Feeds {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: feed %s: %q is not a hex address", symbol, addr))
		}
	}
	if len(c.Chain.Feeds) > 0 && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url is required when feeds are configured")
	}

	// Adapters
	if c.Aave.Enabled && c.Aave.SubgraphURL == "" {
		errs = append(errs, "aave: subgraph_url must not be empty when enabled")
	}
	if c.Compound.Enabled && c.Compound.APIURL == "" {
		errs = append(errs, "compound: api_url must not be empty when enabled")
	}
	if !c.Aave.Enabled && !c.Compound.Enabled && c.Mode == "monitor" {
		errs = append(errs, "at least one protocol adapter must be enabled in monitor mode")
	}

	// Price feed
	if c.PriceFeed.Enabled && c.PriceFeed.WsURL == "" {
		errs = append(errs, "price_feed: ws_url must not be empty when enabled")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.Epsilon < 0 {
		errs = append(errs, "monitor: epsilon must not be negative")
	}
	for i, w := range c.Monitor.Watch {
		if !common.IsHexAddress(w.Wallet) {
			errs = append(errs, fmt.Sprintf("monitor: watch[%d]: %q is not a hex address", i, w.Wallet))
		}
		if !validProtocols[w.Protocol] {
			errs = append(errs, fmt.Sprintf("monitor: watch[%d]: unknown protocol %q", i, w.Protocol))
		}
	}

	// Notify — telegram credentials come in pairs.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.SMTPHost != "" && (c.Notify.EmailFrom == "" || len(c.Notify.EmailTo) == 0) {
		errs = append(errs, "notify: email_from and email_to are required when smtp_host is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
