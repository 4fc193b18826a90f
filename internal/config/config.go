package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"cardsignal/internal/logging"
	"cardsignal/internal/storage"
	"cardsignal/internal/valuation"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Tracker     SourceConfig      `mapstructure:"tracker"`
	Catalog     SourceConfig      `mapstructure:"catalog"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Grading     GradingConfig     `mapstructure:"grading"`
	Normalizer  NormalizerConfig  `mapstructure:"normalizer"`
	Records     RecordsConfig     `mapstructure:"records"`
	Badges      BadgesConfig      `mapstructure:"badges"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string                 `mapstructure:"backend"`
	Postgres storage.DatabaseConfig `mapstructure:"postgres"`
	Redis    storage.RedisConfig    `mapstructure:"redis"`
}

// SourceConfig covers an upstream HTTP API.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AcquisitionConfig tunes the cache and throttle windows.
type AcquisitionConfig struct {
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age"`
	SuccessBackoff   time.Duration `mapstructure:"success_backoff"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
}

// QuotaConfig caps metered API usage.
type QuotaConfig struct {
	DailyLimit   int     `mapstructure:"daily_limit"`
	WarningPct   float64 `mapstructure:"warning_pct"`
	CriticalPct  float64 `mapstructure:"critical_pct"`
	EmergencyPct float64 `mapstructure:"emergency_pct"`
	LogSize      int     `mapstructure:"log_size"`
	Timezone     string  `mapstructure:"timezone"`
}

// FeeTierConfig is one grading fee band. MaxValue zero means unbounded.
type FeeTierConfig struct {
	Name            string  `mapstructure:"name"`
	MinValue        float64 `mapstructure:"min_value"`
	MaxValue        float64 `mapstructure:"max_value"`
	GradingFee      float64 `mapstructure:"grading_fee"`
	Shipping        float64 `mapstructure:"shipping"`
	MarketplaceRate float64 `mapstructure:"marketplace_rate"`
}

// FeesConfig customises the valuation fee schedule.
type FeesConfig struct {
	Haircut float64         `mapstructure:"haircut"`
	Tiers   []FeeTierConfig `mapstructure:"tiers"`
}

// GradingConfig supplies per-set gem-rate baselines.
type GradingConfig struct {
	Baselines map[string]float64 `mapstructure:"baselines"`
}

// NormalizerConfig tunes price normalization.
type NormalizerConfig struct {
	GradedMultiplier float64 `mapstructure:"graded_multiplier"`
}

// RecordsConfig points at the optional legacy card-record dataset.
type RecordsConfig struct {
	Path string `mapstructure:"path"`
}

// BadgesConfig tunes signal badge thresholds.
type BadgesConfig struct {
	MomentumPct      float64 `mapstructure:"momentum_pct"`
	MomentumMinSales int     `mapstructure:"momentum_min_sales"`
	UpsidePct        float64 `mapstructure:"upside_pct"`
	HighVolumeSales  int     `mapstructure:"high_volume_sales"`
}

// WatchlistEntry names one card to scan.
type WatchlistEntry struct {
	SetID  string `mapstructure:"set_id"`
	Number string `mapstructure:"number"`
	Name   string `mapstructure:"name"`
}

// ScannerConfig governs the scheduled watchlist scan.
type ScannerConfig struct {
	Interval        time.Duration    `mapstructure:"interval"`
	AlignToInterval bool             `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration    `mapstructure:"startup_delay"`
	ScanOnStart     bool             `mapstructure:"scan_on_start"`
	PacingDelay     time.Duration    `mapstructure:"pacing_delay"`
	AdvisoryLockKey int64            `mapstructure:"advisory_lock_key"`
	Watchlist       []WatchlistEntry `mapstructure:"watchlist"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CARDSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("app.name", "cardsignal")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.prefix", "cardsignal")

	v.SetDefault("tracker.request_timeout", "10s")
	v.SetDefault("tracker.user_agent", "cardsignal/1.0")
	v.SetDefault("catalog.request_timeout", "10s")
	v.SetDefault("catalog.user_agent", "cardsignal/1.0")

	v.SetDefault("acquisition.cache_max_age", "24h")
	v.SetDefault("acquisition.success_backoff", "24h")
	v.SetDefault("acquisition.rate_limit_backoff", "60m")
	v.SetDefault("acquisition.error_backoff", "15m")
	v.SetDefault("acquisition.fetch_timeout", "10s")

	v.SetDefault("quota.daily_limit", 200)
	v.SetDefault("quota.warning_pct", 80.0)
	v.SetDefault("quota.critical_pct", 90.0)
	v.SetDefault("quota.emergency_pct", 95.0)
	v.SetDefault("quota.log_size", 100)

	v.SetDefault("fees.haircut", 0.9)

	v.SetDefault("normalizer.graded_multiplier", 4.5)

	v.SetDefault("badges.momentum_pct", 0.10)
	v.SetDefault("badges.momentum_min_sales", 3)
	v.SetDefault("badges.upside_pct", 0.25)
	v.SetDefault("badges.high_volume_sales", 15)

	v.SetDefault("scanner.interval", "6h")
	v.SetDefault("scanner.align_to_interval", true)
	v.SetDefault("scanner.startup_delay", "0s")
	v.SetDefault("scanner.scan_on_start", true)
	v.SetDefault("scanner.pacing_delay", "200ms")
	v.SetDefault("scanner.advisory_lock_key", int64(0x63617264))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9402")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Storage.Backend {
	case "postgres", "redis", "":
	default:
		return fmt.Errorf("storage.backend must be postgres or redis, got %q", c.Storage.Backend)
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be greater than zero")
	}
	if c.Scanner.PacingDelay < 0 {
		return fmt.Errorf("scanner.pacing_delay cannot be negative")
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Normalizer.GradedMultiplier < 0 {
		return fmt.Errorf("normalizer.graded_multiplier cannot be negative")
	}
	for i, tier := range c.Fees.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("fees.tiers[%d].name is required", i)
		}
		if tier.MarketplaceRate < 0 || tier.MarketplaceRate >= 1 {
			return fmt.Errorf("fees.tiers[%d].marketplace_rate must be in [0,1)", i)
		}
	}
	if c.Quota.Timezone != "" {
		if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
			return fmt.Errorf("quota.timezone: %w", err)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// FeeSchedule converts the configured tiers into a valuation schedule,
// falling back to the built-in PSA-style table when none are set.
func (c *Config) FeeSchedule() valuation.Schedule {
	if len(c.Fees.Tiers) == 0 {
		return valuation.DefaultSchedule()
	}

	tiers := make([]valuation.FeeTier, 0, len(c.Fees.Tiers))
	for _, t := range c.Fees.Tiers {
		tier := valuation.FeeTier{
			Name:            t.Name,
			MinValue:        decimal.NewFromFloat(t.MinValue),
			GradingFee:      decimal.NewFromFloat(t.GradingFee),
			Shipping:        decimal.NewFromFloat(t.Shipping),
			MarketplaceRate: decimal.NewFromFloat(t.MarketplaceRate),
		}
		if t.MaxValue > 0 {
			max := decimal.NewFromFloat(t.MaxValue)
			tier.MaxValue = &max
		}
		tiers = append(tiers, tier)
	}
	return valuation.NewSchedule(tiers)
}

// Haircut returns the PSA9 resale discount, defaulted when unset.
func (c *Config) Haircut() float64 {
	if c.Fees.Haircut <= 0 || c.Fees.Haircut > 1 {
		return valuation.DefaultHaircut
	}
	return c.Fees.Haircut
}

// QuotaLocation resolves the configured timezone, defaulting to local time.
func (c *Config) QuotaLocation() *time.Location {
	if c.Quota.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
