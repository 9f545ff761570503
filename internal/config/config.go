// Package config provides configuration management for the simulator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"marketsim/internal/crisis"
	apperrors "marketsim/internal/errors"
	"marketsim/internal/execution"
	"marketsim/internal/logging"
	"marketsim/internal/market"
	"marketsim/internal/news"
	"marketsim/internal/pricing"
)

// EnvPrefix is the prefix of environment overrides, e.g. MARKETSIM_SIMULATION_TOTAL_TICKS.
const EnvPrefix = "MARKETSIM"

// Config holds all application configuration.
type Config struct {
	Simulation    SimulationConfig             `mapstructure:"simulation"`
	Market        market.EvolverConfig         `mapstructure:"market"`
	News          news.Config                  `mapstructure:"news"`
	Crisis        crisis.Config                `mapstructure:"crisis"`
	Pricing       pricing.Config               `mapstructure:"pricing"`
	Execution     execution.Config             `mapstructure:"execution"`
	Kinds         map[string]market.KindConfig `mapstructure:"kinds"`
	Replay        ReplayConfig                 `mapstructure:"replay"`
	Store         StoreConfig                  `mapstructure:"store"`
	Metrics       MetricsConfig                `mapstructure:"metrics"`
	Kafka         KafkaConfig                  `mapstructure:"kafka"`
	Notifications NotificationConfig           `mapstructure:"notifications"`
	Logging       logging.LogConfig            `mapstructure:"logging"`
}

// SimulationConfig holds session-level settings.
type SimulationConfig struct {
	SeasonID       string        `mapstructure:"season_id"`
	ClientVersion  string        `mapstructure:"client_version"`
	InitialCapital int64         `mapstructure:"initial_capital" validate:"gt=0"`
	TotalTicks     int           `mapstructure:"total_ticks" validate:"gte=0"`
	TicksPerDay    int           `mapstructure:"ticks_per_day" validate:"gt=0"`
	TickInterval   time.Duration `mapstructure:"tick_interval" validate:"gte=0"`
}

// ReplayConfig holds verifier settings.
type ReplayConfig struct {
	Workers             int    `mapstructure:"workers" validate:"gte=1,lte=256"`
	QueueSize           int    `mapstructure:"queue_size" validate:"gte=1"`
	MinSupportedVersion string `mapstructure:"min_supported_version" validate:"required"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// KafkaConfig holds the Kafka event sink settings.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
	Async   bool     `mapstructure:"async"`

	BatchSize    int           `mapstructure:"batch_size" validate:"gte=0"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" validate:"gte=0"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Level   string        `mapstructure:"level" validate:"omitempty,oneof=all trades_only errors_only"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	// QueueSize bounds the events waiting for delivery; newer ones are
	// dropped when it is full.
	QueueSize int           `mapstructure:"queue_size" validate:"gte=0"`
	DrainWait time.Duration `mapstructure:"drain_wait" validate:"gte=0"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/marketsim"
	}
	return filepath.Join(home, ".config", "marketsim")
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads config.toml from configDir, creating a commented template when
// none exists, then applies MARKETSIM_* environment overrides and validates.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.season_id", "")
	v.SetDefault("simulation.client_version", "")
	v.SetDefault("simulation.initial_capital", 10_000_000)
	v.SetDefault("simulation.total_ticks", 3600)
	v.SetDefault("simulation.ticks_per_day", 360)
	v.SetDefault("simulation.tick_interval", "250ms")

	ev := market.DefaultEvolverConfig()
	v.SetDefault("market.macro_change_probability", ev.MacroChangeProbability)
	v.SetDefault("market.high_inflation", ev.HighInflation)
	for key, ic := range map[string]market.IndicatorConfig{
		"interest_rate": ev.InterestRate,
		"inflation":     ev.Inflation,
		"gdp_growth":    ev.GDPGrowth,
	} {
		v.SetDefault("market."+key+".baseline", ic.Baseline)
		v.SetDefault("market."+key+".min", ic.Min)
		v.SetDefault("market."+key+".max", ic.Max)
		v.SetDefault("market."+key+".step", ic.Step)
	}

	nc := news.DefaultConfig()
	v.SetDefault("news.base_probability", nc.BaseProbability)
	v.SetDefault("news.global_event_probability", nc.GlobalEventProbability)
	v.SetDefault("news.seasonal_probability", nc.SeasonalProbability)
	v.SetDefault("news.decay", nc.Decay)
	v.SetDefault("news.global_decay", nc.GlobalDecay)
	v.SetDefault("news.epsilon", nc.Epsilon)
	v.SetDefault("news.global_min_intensity", nc.GlobalMinIntensity)

	cc := crisis.DefaultConfig()
	v.SetDefault("crisis.enabled", cc.Enabled)
	v.SetDefault("crisis.amplify_above", cc.AmplifyAbove)
	v.SetDefault("crisis.amplify_factor", cc.AmplifyFactor)
	v.SetDefault("crisis.probability_scale", cc.ProbabilityScale)
	v.SetDefault("crisis.instrument_jitter_min", cc.InstrumentJitterMin)
	v.SetDefault("crisis.instrument_jitter_max", cc.InstrumentJitterMax)

	pc := pricing.DefaultConfig()
	v.SetDefault("pricing.tracking_noise", pc.TrackingNoise)
	v.SetDefault("pricing.force_tick", pc.ForceTick)

	xc := execution.DefaultConfig()
	v.SetDefault("execution.fee_rate", xc.FeeRate)
	v.SetDefault("execution.skill_level", xc.SkillLevel)
	v.SetDefault("execution.slippage_enabled", xc.SlippageEnabled)
	v.SetDefault("execution.max_quantity", xc.MaxQuantity)

	v.SetDefault("replay.workers", 4)
	v.SetDefault("replay.queue_size", 64)
	v.SetDefault("replay.min_supported_version", "2.0")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "marketsim.db"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "marketsim.events")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", time.Second)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.drain_wait", 5*time.Second)
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")

	lc := logging.DefaultLogConfig()
	v.SetDefault("logging.level", lc.Level)
	v.SetDefault("logging.console", lc.Console)
	v.SetDefault("logging.file", lc.File)
	v.SetDefault("logging.file_path", lc.FilePath)
	v.SetDefault("logging.max_size", lc.MaxSize)
	v.SetDefault("logging.max_backups", lc.MaxBackups)
	v.SetDefault("logging.max_age", lc.MaxAge)
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}

	if c.Execution.FeeRate < 0 {
		return apperrors.NewValidationError("execution.fee_rate", c.Execution.FeeRate, "must be non-negative")
	}
	if c.Crisis.InstrumentJitterMin > c.Crisis.InstrumentJitterMax {
		return apperrors.NewValidationError("crisis.instrument_jitter_min", c.Crisis.InstrumentJitterMin, "must not exceed instrument_jitter_max")
	}
	if c.News.Decay <= 0 || c.News.Decay > 1 {
		return apperrors.NewValidationError("news.decay", c.News.Decay, "must be in (0,1]")
	}
	for name, kc := range c.Kinds {
		if _, err := market.ParseKind(name); err != nil {
			return apperrors.NewValidationError("kinds."+name, name, err.Error())
		}
		if kc.BaseVolatility < 0 || kc.MaxDailyMove <= 0 || kc.MinPrice <= 0 {
			return apperrors.NewValidationError("kinds."+name, kc, "base_volatility, max_daily_move and min_price must be positive")
		}
	}
	return nil
}

// KindTable returns the default kind table with any [kinds.<kind>] overrides
// applied. Overrides replace the whole row.
func (c *Config) KindTable() market.KindTable {
	table := market.DefaultKindTable()
	for name, kc := range c.Kinds {
		if k, err := market.ParseKind(name); err == nil {
			table[k] = kc
		}
	}
	return table
}
