package config

import (
	"fmt"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Database DatabaseConfig         `mapstructure:"database"`
	Redis    RedisConfig            `mapstructure:"redis"`
	JWT      JWTConfig              `mapstructure:"jwt"`
	Log      LogConfig              `mapstructure:"log"`
	Webhook  WebhookConfig          `mapstructure:"webhook"`
	Prices   PricesConfig           `mapstructure:"prices"`
	Provider ProviderConfig         `mapstructure:"provider"`
	Notify   NotifyConfig           `mapstructure:"notify"`
	Audit    AuditConfig            `mapstructure:"audit"`
	Assets   map[string]AssetConfig `mapstructure:"assets"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// WebhookConfig configures inbound payment-provider deliveries.
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"`
	SignatureHeader string        `mapstructure:"signature_header"`
	ReplayTTL       time.Duration `mapstructure:"replay_ttl"`
	RetryQueueSize  int           `mapstructure:"retry_queue_size"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
}

type PricesConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Retries  int           `mapstructure:"retries"`
}

// ProviderConfig points at the payment processor's charge API.
type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	ChargeTTL   time.Duration `mapstructure:"charge_ttl"`
	RedirectURL string        `mapstructure:"redirect_url"`
}

type NotifyConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
	Retries   int           `mapstructure:"retries"`
}

type AuditConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// AssetConfig carries per-asset ledger rules. Amounts are decimal strings.
type AssetConfig struct {
	Confirmations   int    `mapstructure:"confirmations"`
	MinWithdrawal   string `mapstructure:"min_withdrawal"`
	WithdrawalFee   string `mapstructure:"withdrawal_fee"`
	MinDepositUSD   string `mapstructure:"min_deposit_usd"`
	FallbackUSD     string `mapstructure:"fallback_usd"`
	DisplayDecimals int32  `mapstructure:"display_decimals"`
}

// AssetCatalog converts the assets section into ledger rules.
func (c *Config) AssetCatalog() (*domain.AssetCatalog, error) {
	if len(c.Assets) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}
	rules := make([]domain.AssetRule, 0, len(c.Assets))
	for sym, a := range c.Assets {
		rule := domain.AssetRule{Symbol: sym, Confirmations: a.Confirmations, Decimals: a.DisplayDecimals}
		if rule.Confirmations < 1 {
			return nil, fmt.Errorf("asset %s: confirmations must be at least 1", sym)
		}
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"min_withdrawal", a.MinWithdrawal, &rule.MinWithdrawal},
			{"withdrawal_fee", a.WithdrawalFee, &rule.WithdrawalFee},
			{"min_deposit_usd", a.MinDepositUSD, &rule.MinDepositUSD},
			{"fallback_usd", a.FallbackUSD, &rule.FallbackUSD},
		} {
			if f.raw == "" {
				continue
			}
			d, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %s: %w", sym, f.name, err)
			}
			if d.IsNegative() {
				return nil, fmt.Errorf("asset %s: %s must not be negative", sym, f.name)
			}
			*f.dst = d
		}
		rules = append(rules, rule)
	}
	return domain.NewAssetCatalog(rules...), nil
}

var defaultAssets = map[string]map[string]interface{}{
	"btc":  {"confirmations": 3, "min_withdrawal": "0.0005", "withdrawal_fee": "0.0002", "min_deposit_usd": "10", "fallback_usd": "60000", "display_decimals": 8},
	"eth":  {"confirmations": 12, "min_withdrawal": "0.01", "withdrawal_fee": "0.001", "min_deposit_usd": "10", "fallback_usd": "3000", "display_decimals": 8},
	"usdc": {"confirmations": 12, "min_withdrawal": "10", "withdrawal_fee": "1", "min_deposit_usd": "10", "fallback_usd": "1", "display_decimals": 6},
	"ltc":  {"confirmations": 6, "min_withdrawal": "0.1", "withdrawal_fee": "0.001", "min_deposit_usd": "10", "fallback_usd": "80", "display_decimals": 8},
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CLG_ (Custody LedGer).
// Nested keys use underscore: CLG_DATABASE_HOST, CLG_WEBHOOK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "custody_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.op_timeout", "500ms")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "custody-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "X-CC-Webhook-Signature")
	v.SetDefault("webhook.replay_ttl", "24h")
	v.SetDefault("webhook.retry_queue_size", 256)
	v.SetDefault("webhook.retry_attempts", 5)
	v.SetDefault("webhook.retry_base_delay", "500ms")
	v.SetDefault("webhook.retry_max_delay", "30s")
	v.SetDefault("prices.url", "")
	v.SetDefault("prices.timeout", "3s")
	v.SetDefault("prices.cache_ttl", "60s")
	v.SetDefault("prices.retries", 2)
	v.SetDefault("provider.base_url", "https://api.commerce.coinbase.com")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.retries", 2)
	v.SetDefault("provider.charge_ttl", "1h")
	v.SetDefault("provider.redirect_url", "")
	v.SetDefault("notify.url", "")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.queue_size", 512)
	v.SetDefault("notify.retries", 3)
	v.SetDefault("audit.queue_size", 1024)
	for sym, rules := range defaultAssets {
		for k, val := range rules {
			v.SetDefault("assets."+sym+"."+k, val)
		}
	}

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// viper lowercases map keys; asset symbols are upper case everywhere else.
	assets := make(map[string]AssetConfig, len(cfg.Assets))
	for sym, a := range cfg.Assets {
		assets[strings.ToUpper(sym)] = a
	}
	cfg.Assets = assets

	return &cfg, nil
}
