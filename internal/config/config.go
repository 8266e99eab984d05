package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-risk-scorer/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Market     MarketConfig     `mapstructure:"market"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProvidersConfig groups upstream market-data providers.
type ProvidersConfig struct {
	CoinGecko ProviderConfig `mapstructure:"coingecko"`
	Moralis   ProviderConfig `mapstructure:"moralis"`
	Mobula    ProviderConfig `mapstructure:"mobula"`
	Tokenview ProviderConfig `mapstructure:"tokenview"`
	Ethereum  EthereumConfig `mapstructure:"ethereum"`
}

// ProviderConfig captures a single HTTP provider.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
}

// Enabled reports whether the provider can be called.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.BaseURL) != ""
}

// EthereumConfig covers on-chain contract inspection.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// CacheConfig selects and sizes the analysis cache.
type CacheConfig struct {
	Backend         string        `mapstructure:"backend"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	MaxEntries      int           `mapstructure:"max_entries"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

// RedisConfig describes the optional Redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AnalysisConfig governs retries and batching.
type AnalysisConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	MaxBatchTokens int           `mapstructure:"max_batch_tokens"`
	DefaultChain   string        `mapstructure:"default_chain"`
	CrossValidate  bool          `mapstructure:"cross_validate"`
	HistoryDepth   int           `mapstructure:"history_depth"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig defines real-time monitoring defaults.
type MonitoringConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	PriceDeviationPct float64       `mapstructure:"price_deviation_pct"`
	CriticalScore     float64       `mapstructure:"critical_score"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig covers the market data pass-through.
type MarketConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	TopCoinsLimit int           `mapstructure:"top_coins_limit"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AlertingConfig defines alert routing for monitoring.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RISKSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindProviderEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// bindProviderEnv keeps the conventional unprefixed key names working.
func bindProviderEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"providers.coingecko.api_key": {"RISKSCOPE_PROVIDERS_COINGECKO_API_KEY", "COINGECKO_API_KEY"},
		"providers.moralis.api_key":   {"RISKSCOPE_PROVIDERS_MORALIS_API_KEY", "MORALIS_API_KEY"},
		"providers.mobula.api_key":    {"RISKSCOPE_PROVIDERS_MOBULA_API_KEY", "MOBULA_API_KEY"},
		"providers.tokenview.api_key": {"RISKSCOPE_PROVIDERS_TOKENVIEW_API_KEY", "TOKENVIEW_API_KEY"},
		"providers.ethereum.rpc_url":  {"RISKSCOPE_PROVIDERS_ETHEREUM_RPC_URL", "ETHEREUM_RPC_URL"},
		"database.dsn":                {"RISKSCOPE_DATABASE_DSN", "DATABASE_URL"},
		"cache.redis.addr":            {"RISKSCOPE_CACHE_REDIS_ADDR", "REDIS_ADDR"},
	}
	for key, envs := range bindings {
		input := append([]string{key}, envs...)
		if err := v.BindEnv(input...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskscope")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.batch_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.request_timeout", "10s")
	v.SetDefault("providers.coingecko.rate_per_second", 0.5)
	v.SetDefault("providers.coingecko.burst", 5)

	v.SetDefault("providers.moralis.base_url", "https://deep-index.moralis.io/api/v2.2")
	v.SetDefault("providers.moralis.request_timeout", "10s")
	v.SetDefault("providers.moralis.rate_per_second", 2.0)
	v.SetDefault("providers.moralis.burst", 5)

	v.SetDefault("providers.mobula.base_url", "https://api.mobula.io/api/1")
	v.SetDefault("providers.mobula.request_timeout", "10s")
	v.SetDefault("providers.mobula.rate_per_second", 2.0)
	v.SetDefault("providers.mobula.burst", 5)

	v.SetDefault("providers.tokenview.base_url", "https://services.tokenview.io/vipapi")
	v.SetDefault("providers.tokenview.request_timeout", "10s")
	v.SetDefault("providers.tokenview.rate_per_second", 1.0)
	v.SetDefault("providers.tokenview.burst", 2)

	v.SetDefault("providers.ethereum.request_timeout", "10s")

	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.consecutive_failures", 5)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.default_duration", "5m")
	v.SetDefault("cache.max_duration", "1h")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.redis.key_prefix", "riskscope:")

	v.SetDefault("analysis.max_retries", 3)
	v.SetDefault("analysis.retry_delay", "1s")
	v.SetDefault("analysis.batch_size", 5)
	v.SetDefault("analysis.batch_delay", "1s")
	v.SetDefault("analysis.max_batch_tokens", 50)
	v.SetDefault("analysis.default_chain", "eth")
	v.SetDefault("analysis.cross_validate", true)
	v.SetDefault("analysis.history_depth", 30)
	v.SetDefault("analysis.timeout", "2m")

	v.SetDefault("monitoring.interval", "60s")
	v.SetDefault("monitoring.price_deviation_pct", 10.0)
	v.SetDefault("monitoring.critical_score", 80.0)
	v.SetDefault("monitoring.advisory_lock_key", int64(0x7269736b))

	v.SetDefault("market.cache_ttl", "60s")
	v.SetDefault("market.top_coins_limit", 20)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Cache.DefaultDuration <= 0 {
		return fmt.Errorf("cache.default_duration must be greater than zero")
	}
	if c.Cache.MaxDuration < c.Cache.DefaultDuration {
		return fmt.Errorf("cache.max_duration must not be shorter than cache.default_duration")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory":
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache.max_entries must be greater than zero")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Analysis.MaxRetries < 1 {
		return fmt.Errorf("analysis.max_retries must be at least 1")
	}
	if c.Analysis.BatchSize <= 0 {
		return fmt.Errorf("analysis.batch_size must be greater than zero")
	}
	if c.Analysis.MaxBatchTokens <= 0 {
		return fmt.Errorf("analysis.max_batch_tokens must be greater than zero")
	}
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be greater than zero")
	}
	if c.Monitoring.PriceDeviationPct < 0 {
		return fmt.Errorf("monitoring.price_deviation_pct cannot be negative")
	}
	if c.Market.CacheTTL <= 0 {
		return fmt.Errorf("market.cache_ttl must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if !c.Providers.CoinGecko.Enabled() {
		return fmt.Errorf("providers.coingecko.base_url must be configured")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
