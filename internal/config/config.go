package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stocks-watcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	OffHoursInterval time.Duration `mapstructure:"off_hours_interval"`
	Weekends         bool          `mapstructure:"weekends"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// ProviderConfig captures market data connectivity.
type ProviderConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	TickerMap      map[string]string `mapstructure:"ticker_map"`
}

// EngineConfig tunes the per-cycle evaluation behaviour.
type EngineConfig struct {
	Workers            int           `mapstructure:"workers"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	StaleAfterFailures int           `mapstructure:"stale_after_failures"`
	NearThresholdPct   float64       `mapstructure:"near_threshold_pct"`
	HysteresisPct      float64       `mapstructure:"hysteresis_pct"`
	DebounceCount      int           `mapstructure:"debounce_count"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Channels  []string       `mapstructure:"channels"`
	Retention time.Duration  `mapstructure:"retention"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig covers the HTTP/WebSocket listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKSWATCHER")
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
	v.SetDefault("app.name", "stockswatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.check_interval", "5m")
	v.SetDefault("scheduler.off_hours_interval", "30m")
	v.SetDefault("scheduler.weekends", false)
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73746b77))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("provider.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "stockswatcher/1.0")

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.fetch_timeout", "10s")
	v.SetDefault("engine.stale_after_failures", 3)
	v.SetDefault("engine.near_threshold_pct", 1.0)
	v.SetDefault("engine.hysteresis_pct", 0.5)
	v.SetDefault("engine.debounce_count", 3)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.retention", "720h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("scheduler.check_interval must be greater than zero")
	}
	if c.Scheduler.OffHoursInterval < c.Scheduler.CheckInterval {
		return fmt.Errorf("scheduler.off_hours_interval must not be shorter than check_interval")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be greater than zero")
	}
	if c.Engine.NearThresholdPct <= 0 {
		return fmt.Errorf("engine.near_threshold_pct must be greater than zero")
	}
	if c.Engine.HysteresisPct < 0 {
		return fmt.Errorf("engine.hysteresis_pct cannot be negative")
	}
	if c.Engine.StaleAfterFailures <= 0 {
		return fmt.Errorf("engine.stale_after_failures must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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
