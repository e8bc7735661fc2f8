package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	AWS      AWSConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Logging  LoggingConfig
	Explorer ExplorerConfig
	Prices   PriceConfig
	Monitor  MonitorConfig
	Webhook  WebhookConfig
	Server   ServerConfig
	Secrets  SecretsConfig
	Chains   map[string]ChainDefaults
}

// AWSConfig holds AWS-specific configuration
type AWSConfig struct {
	Region string
}

// DatabaseConfig holds the relational store and the DynamoDB rate cache settings
type DatabaseConfig struct {
	Driver        string // mysql or sqlite
	DSN           string
	RateTableName string // empty disables the DynamoDB rate cache
	Endpoint      string // For local testing
}

// QueueConfig holds SQS configuration
type QueueConfig struct {
	EventQueueURL string // empty disables payment event fan-out
	Endpoint      string // For local testing
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// ExplorerConfig holds the chain explorer client settings
type ExplorerConfig struct {
	BaseURL  string
	MaxPages int
	Timeout  time.Duration
}

// PriceConfig holds the price oracle settings
type PriceConfig struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// MonitorConfig holds reconciliation loop cadence
type MonitorConfig struct {
	Network           string
	PollInterval      time.Duration
	RetryInterval     time.Duration
	ConfirmationGrace time.Duration
	ActivePageSize    int
}

// WebhookConfig holds notification delivery settings
type WebhookConfig struct {
	Timeout time.Duration
}

// ServerConfig holds the monitor daemon's health endpoint settings
type ServerConfig struct {
	HealthAddr string
}

// SecretsConfig controls Secrets Manager lookups for values missing from the environment
type SecretsConfig struct {
	Prefix string
}

// ChainDefaults are per-network payment defaults
type ChainDefaults struct {
	ExpirationMinutes     int `mapstructure:"expiration_minutes"`
	ConfirmationsRequired int `mapstructure:"confirmations_required"`
}

// DefaultChains mirrors the networks the gateway accepts payments on
func DefaultChains() map[string]ChainDefaults {
	return map[string]ChainDefaults{
		"TXC":     {ExpirationMinutes: 60, ConfirmationsRequired: 6},
		"ETH":     {ExpirationMinutes: 30, ConfirmationsRequired: 12},
		"BASE":    {ExpirationMinutes: 30, ConfirmationsRequired: 12},
		"BSC":     {ExpirationMinutes: 30, ConfirmationsRequired: 15},
		"POLYGON": {ExpirationMinutes: 30, ConfirmationsRequired: 128},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "paygate.db")
	v.SetDefault("rate_table", "")
	v.SetDefault("dynamodb_endpoint", "")
	v.SetDefault("event_queue_url", "")
	v.SetDefault("sqs_endpoint", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "json")
	v.SetDefault("mempool_api", "https://mempool.texitcoin.org/api")
	v.SetDefault("explorer_max_pages", 5)
	v.SetDefault("explorer_timeout", 30*time.Second)
	v.SetDefault("coinmarketcap_api_key", "")
	v.SetDefault("coinmarketcap_api", "https://pro-api.coinmarketcap.com")
	v.SetDefault("price_cache_ttl", 2*time.Minute)
	v.SetDefault("price_timeout", 10*time.Second)
	v.SetDefault("monitor_network", "TXC")
	v.SetDefault("poll_interval", 10*time.Second)
	v.SetDefault("webhook_retry_interval", 30*time.Second)
	v.SetDefault("confirmation_grace", time.Duration(0))
	v.SetDefault("active_page_size", 500)
	v.SetDefault("webhook_timeout", 30*time.Second)
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("secrets_prefix", "")
}

// Load loads configuration from defaults, an optional YAML file named by
// PAYGATE_CONFIG, and environment variables (highest precedence).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("PAYGATE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		AWS: AWSConfig{
			Region: v.GetString("aws_region"),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(v.GetString("db_driver")),
			DSN:           v.GetString("db_dsn"),
			RateTableName: v.GetString("rate_table"),
			Endpoint:      v.GetString("dynamodb_endpoint"),
		},
		Queue: QueueConfig{
			EventQueueURL: v.GetString("event_queue_url"),
			Endpoint:      v.GetString("sqs_endpoint"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
		Explorer: ExplorerConfig{
			BaseURL:  strings.TrimRight(v.GetString("mempool_api"), "/"),
			MaxPages: v.GetInt("explorer_max_pages"),
			Timeout:  v.GetDuration("explorer_timeout"),
		},
		Prices: PriceConfig{
			APIKey:   v.GetString("coinmarketcap_api_key"),
			BaseURL:  strings.TrimRight(v.GetString("coinmarketcap_api"), "/"),
			CacheTTL: v.GetDuration("price_cache_ttl"),
			Timeout:  v.GetDuration("price_timeout"),
		},
		Monitor: MonitorConfig{
			Network:           strings.ToUpper(v.GetString("monitor_network")),
			PollInterval:      v.GetDuration("poll_interval"),
			RetryInterval:     v.GetDuration("webhook_retry_interval"),
			ConfirmationGrace: v.GetDuration("confirmation_grace"),
			ActivePageSize:    v.GetInt("active_page_size"),
		},
		Webhook: WebhookConfig{
			Timeout: v.GetDuration("webhook_timeout"),
		},
		Server: ServerConfig{
			HealthAddr: v.GetString("health_addr"),
		},
		Secrets: SecretsConfig{
			Prefix: v.GetString("secrets_prefix"),
		},
		Chains: DefaultChains(),
	}

	if v.IsSet("chains") {
		overrides := map[string]ChainDefaults{}
		if err := v.UnmarshalKey("chains", &overrides); err != nil {
			return nil, fmt.Errorf("parse chains: %w", err)
		}
		for network, def := range overrides {
			cfg.Chains[strings.ToUpper(network)] = def
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.Database.Driver)
	}
	if c.Explorer.MaxPages < 1 {
		return fmt.Errorf("EXPLORER_MAX_PAGES must be positive")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Monitor.RetryInterval <= 0 {
		return fmt.Errorf("WEBHOOK_RETRY_INTERVAL must be positive")
	}
	if c.Monitor.ConfirmationGrace < 0 {
		return fmt.Errorf("CONFIRMATION_GRACE must not be negative")
	}
	for network, def := range c.Chains {
		if def.ExpirationMinutes <= 0 || def.ConfirmationsRequired <= 0 {
			return fmt.Errorf("chain %s: expiration and confirmations must be positive", network)
		}
	}
	if _, ok := c.Chains[c.Monitor.Network]; !ok {
		return fmt.Errorf("MONITOR_NETWORK %s has no chain defaults", c.Monitor.Network)
	}
	return nil
}

// Chain returns the defaults for a network
func (c *Config) Chain(network string) (ChainDefaults, bool) {
	def, ok := c.Chains[strings.ToUpper(network)]
	return def, ok
}
