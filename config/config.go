// Package config loads the service configuration from a YAML file,
// ATTENDANCE_* environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/engine"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Source     SourceConfig     `mapstructure:"source"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Calculator CalculatorConfig `mapstructure:"calculator"`
	Overtime   OvertimeConfig   `mapstructure:"overtime"`
	Allowance  AllowanceConfig  `mapstructure:"allowance"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	BindAddress string   `mapstructure:"bind_address"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// SeedScenarios loads the demo scenarios on an empty database.
	SeedScenarios bool `mapstructure:"seed_scenarios"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.BindAddress, s.Port) }

// DatabaseConfig is the SQLite output store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig selects where raw records are read from: the SQLite
// database itself ("sqlite"), the legacy MySQL database ("mysql", URL is a
// go-sql-driver DSN) or a PostgreSQL replica of the legacy schema
// ("postgres", URL is a postgres:// connection string).
type SourceConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Timezone string `mapstructure:"timezone"`
}

type EngineConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	LookbackDays    int `mapstructure:"lookback_days"`
	MaxLookbackDays int `mapstructure:"max_lookback_days"`
	LookaheadDays   int `mapstructure:"lookahead_days"`
	// GapToleranceDays applies when GapTolerance is empty.
	GapToleranceDays int    `mapstructure:"gap_tolerance_days"`
	GapTolerance     string `mapstructure:"gap_tolerance"`
}

type CalculatorConfig struct {
	MinRestDeduction string `mapstructure:"min_rest_deduction"`
	LookaheadWindow  string `mapstructure:"lookahead_window"`
	NoonBreak        bool   `mapstructure:"noon_break"`
}

type OvertimeConfig struct {
	DailyStandard      string `mapstructure:"daily_standard"`
	LongRestraintLimit string `mapstructure:"long_restraint_limit"`
}

type AllowanceConfig struct {
	// Rates are per-day amounts keyed by allowance type.
	Rates map[string]string `mapstructure:"rates"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// Load reads configPath (optional) and applies environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.seed_scenarios", false)

	v.SetDefault("database.path", "./data/attendance.db")

	v.SetDefault("source.driver", "sqlite")
	v.SetDefault("source.url", "")
	v.SetDefault("source.timezone", "Asia/Tokyo")

	v.SetDefault("engine.concurrency", engine.DefaultConcurrency)
	v.SetDefault("engine.lookback_days", engine.DefaultLookbackDays)
	v.SetDefault("engine.max_lookback_days", engine.DefaultMaxLookbackDays)
	v.SetDefault("engine.lookahead_days", engine.DefaultLookaheadDays)
	v.SetDefault("engine.gap_tolerance_days", 1)
	v.SetDefault("engine.gap_tolerance", "")

	v.SetDefault("calculator.min_rest_deduction", "30m")
	v.SetDefault("calculator.lookahead_window", "24h")
	v.SetDefault("calculator.noon_break", true)

	v.SetDefault("overtime.daily_standard", "8h")
	v.SetDefault("overtime.long_restraint_limit", "13h")

	v.SetDefault("allowance.rates", map[string]string{
		string(allowance.Livestock): "1000",
		string(allowance.Trailer):   "1500",
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")

	v.SetDefault("cache.size", engine.DefaultStateCacheSize)
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Source.Driver {
	case "sqlite":
	case "mysql", "postgres":
		if cfg.Source.URL == "" {
			return fmt.Errorf("source url is required for the %s driver", cfg.Source.Driver)
		}
	default:
		return fmt.Errorf("unknown source driver %q", cfg.Source.Driver)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if cfg.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine concurrency must be positive, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.LookbackDays < 1 {
		return fmt.Errorf("engine lookback must reach the previous month, got %d days", cfg.Engine.LookbackDays)
	}
	if cfg.Engine.MaxLookbackDays < cfg.Engine.LookbackDays {
		return fmt.Errorf("max lookback %d is below lookback %d", cfg.Engine.MaxLookbackDays, cfg.Engine.LookbackDays)
	}
	if cfg.Engine.LookaheadDays < 0 || cfg.Engine.GapToleranceDays < 0 {
		return fmt.Errorf("lookahead and gap tolerance days must not be negative")
	}
	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache size must not be negative")
	}

	if _, err := cfg.EngineConfig(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Logging.Format)
	}
	if cfg.Scheduler.Enabled {
		if _, err := cfg.Scheduler.Every(); err != nil {
			return err
		}
	}

	return nil
}

// Location is the zone source timestamps are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid source timezone %q: %w", c.Source.Timezone, err)
	}
	return loc, nil
}

// EngineConfig converts the file settings into an engine.Config.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.Config{
		Concurrency:     c.Engine.Concurrency,
		LookbackDays:    c.Engine.LookbackDays,
		MaxLookbackDays: c.Engine.MaxLookbackDays,
		LookaheadDays:   c.Engine.LookaheadDays,
		Tolerance:       allowance.GapTolerance{CalendarDays: c.Engine.GapToleranceDays},
		Calculator:      attendance.CalculatorConfig{NoonBreak: c.Calculator.NoonBreak},
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"engine.gap_tolerance", c.Engine.GapTolerance, &cfg.Tolerance.Duration},
		{"calculator.min_rest_deduction", c.Calculator.MinRestDeduction, &cfg.Calculator.MinRestDeduction},
		{"calculator.lookahead_window", c.Calculator.LookaheadWindow, &cfg.Calculator.LookaheadWindow},
		{"overtime.daily_standard", c.Overtime.DailyStandard, &cfg.Overtime.DailyStandard},
		{"overtime.long_restraint_limit", c.Overtime.LongRestraintLimit, &cfg.Overtime.LongRestraintLimit},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed < 0 {
			return engine.Config{}, fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = parsed
	}

	rates, err := allowance.ParseRates(c.Allowance.Rates)
	if err != nil {
		return engine.Config{}, err
	}
	cfg.Rates = rates
	return cfg, nil
}

// Every is the refresh interval of the provisional-summary scheduler.
func (s SchedulerConfig) Every() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler interval must be positive")
	}
	return d, nil
}

// Apply configures logger from the logging section.
func (l LoggingConfig) Apply(logger *log.Logger) error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
