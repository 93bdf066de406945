package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Tables    []string        `mapstructure:"tables"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Health    HealthConfig    `mapstructure:"health"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

const (
	ModeBrowser   = "browser"
	ModeSimulator = "simulator"
)

// SourceConfig selects where table values are read from
type SourceConfig struct {
	Mode              string          `mapstructure:"mode"` // browser | simulator
	URL               string          `mapstructure:"url"`
	Headless          bool            `mapstructure:"headless"`
	ExecPath          string          `mapstructure:"exec_path"`
	UserAgent         string          `mapstructure:"user_agent"`
	LoadTimeout       time.Duration   `mapstructure:"load_timeout"`
	EvalTimeout       time.Duration   `mapstructure:"eval_timeout"`
	ProbeInterval     time.Duration   `mapstructure:"probe_interval"`
	DiscoveryInterval time.Duration   `mapstructure:"discovery_interval"`
	Simulator         SimulatorConfig `mapstructure:"simulator"`
}

// SimulatorConfig holds the synthetic feed configuration
type SimulatorConfig struct {
	Tables       []string      `mapstructure:"tables"`
	MinSpin      time.Duration `mapstructure:"min_spin"`
	MaxSpin      time.Duration `mapstructure:"max_spin"`
	HistoryDepth int           `mapstructure:"history_depth"`
	Seed         uint64        `mapstructure:"seed"`
}

// ExtractorConfig bounds each observation and the read rate on the session
type ExtractorConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ReadsPerSecond float64       `mapstructure:"reads_per_second"` // 0 = unlimited
	Burst          int           `mapstructure:"burst"`
}

// DedupConfig holds duplicate suppression windows
type DedupConfig struct {
	MinRepeat       time.Duration `mapstructure:"min_repeat"`
	SignatureWindow time.Duration `mapstructure:"signature_window"`
	RecentWindow    time.Duration `mapstructure:"recent_window"`
	RecentDepth     int           `mapstructure:"recent_depth"`
	SequenceDepth   int           `mapstructure:"sequence_depth"`
	MaxSignatures   int           `mapstructure:"max_signatures"`
}

// HealthConfig holds cadence and restart policy configuration
type HealthConfig struct {
	CheckInterval        time.Duration `mapstructure:"check_interval"`
	InactivityTimeout    time.Duration `mapstructure:"inactivity_timeout"`
	NoiseThreshold       int           `mapstructure:"noise_threshold"`
	MinInterval          time.Duration `mapstructure:"min_interval"`
	MaxInterval          time.Duration `mapstructure:"max_interval"`
	InitialInterval      time.Duration `mapstructure:"initial_interval"`
	ShrinkFactor         float64       `mapstructure:"shrink_factor"`
	GrowFactor           float64       `mapstructure:"grow_factor"`
	TableErrorThreshold  int           `mapstructure:"table_error_threshold"`
	GlobalErrorThreshold int           `mapstructure:"global_error_threshold"`
	RestartBaseDelay     time.Duration `mapstructure:"restart_base_delay"`
	MaxRestartAttempts   int           `mapstructure:"max_restart_attempts"`
	RestartCooldown      time.Duration `mapstructure:"restart_cooldown"`
}

// NotifierConfig sizes the event bus
type NotifierConfig struct {
	HistorySize int `mapstructure:"history_size"`
	MailboxSize int `mapstructure:"mailbox_size"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath              string        `mapstructure:"db_path"`
	MaxOutcomesPerTable int           `mapstructure:"max_outcomes_per_table"`
	RotateInterval      time.Duration `mapstructure:"rotate_interval"`
	PersistTimeout      time.Duration `mapstructure:"persist_timeout"`
}

// ServerConfig holds the HTTP event stream configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	NotifySignals  bool          `mapstructure:"notify_signals"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory, if any, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// WHEELWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("WHEELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.mode", ModeBrowser)
	v.SetDefault("source.url", "")
	v.SetDefault("source.headless", true)
	v.SetDefault("source.exec_path", "")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.load_timeout", "60s")
	v.SetDefault("source.eval_timeout", "10s")
	v.SetDefault("source.probe_interval", "500ms")
	v.SetDefault("source.discovery_interval", "1m")
	v.SetDefault("source.simulator.tables", []string{"1001", "1002", "1003"})
	v.SetDefault("source.simulator.min_spin", "20s")
	v.SetDefault("source.simulator.max_spin", "40s")
	v.SetDefault("source.simulator.history_depth", 8)
	v.SetDefault("source.simulator.seed", 0)

	v.SetDefault("tables", []string{}) // empty = every discovered table

	// Extractor defaults
	v.SetDefault("extractor.timeout", "8s")
	v.SetDefault("extractor.reads_per_second", 20.0)
	v.SetDefault("extractor.burst", 5)

	// Dedup defaults
	v.SetDefault("dedup.min_repeat", "5s")
	v.SetDefault("dedup.signature_window", "3s")
	v.SetDefault("dedup.recent_window", "5s")
	v.SetDefault("dedup.recent_depth", 3)
	v.SetDefault("dedup.sequence_depth", 24)
	v.SetDefault("dedup.max_signatures", 1000)

	// Health defaults
	v.SetDefault("health.check_interval", "10s")
	v.SetDefault("health.inactivity_timeout", "15m")
	v.SetDefault("health.noise_threshold", 5)
	v.SetDefault("health.min_interval", "3s")
	v.SetDefault("health.max_interval", "30s")
	v.SetDefault("health.initial_interval", "5s")
	v.SetDefault("health.shrink_factor", 0.8)
	v.SetDefault("health.grow_factor", 1.05)
	v.SetDefault("health.table_error_threshold", 3)
	v.SetDefault("health.global_error_threshold", 5)
	v.SetDefault("health.restart_base_delay", "5s")
	v.SetDefault("health.max_restart_attempts", 3)
	v.SetDefault("health.restart_cooldown", "30s")

	// Notifier defaults
	v.SetDefault("notifier.history_size", 100)
	v.SetDefault("notifier.mailbox_size", 64)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/wheelwatch.db")
	v.SetDefault("storage.max_outcomes_per_table", 5000)
	v.SetDefault("storage.rotate_interval", "10m")
	v.SetDefault("storage.persist_timeout", "5s")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8080")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.notify_signals", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Source config
	switch c.Source.Mode {
	case ModeBrowser:
		if c.Source.URL == "" {
			return fmt.Errorf("source.url is required in browser mode")
		}
		if c.Source.LoadTimeout <= 0 || c.Source.EvalTimeout <= 0 {
			return fmt.Errorf("source.load_timeout and source.eval_timeout must be positive")
		}
		if c.Source.ProbeInterval < 50*time.Millisecond {
			return fmt.Errorf("source.probe_interval must be at least 50ms")
		}
	case ModeSimulator:
		if len(c.Source.Simulator.Tables) == 0 {
			return fmt.Errorf("source.simulator.tables must contain at least one table")
		}
		if c.Source.Simulator.MaxSpin > 0 && c.Source.Simulator.MinSpin > c.Source.Simulator.MaxSpin {
			return fmt.Errorf("source.simulator.min_spin must not exceed source.simulator.max_spin")
		}
	default:
		return fmt.Errorf("source.mode must be one of: browser, simulator")
	}
	if c.Source.DiscoveryInterval < time.Second {
		return fmt.Errorf("source.discovery_interval must be at least 1 second")
	}

	// Validate Extractor config
	if c.Extractor.Timeout <= 0 {
		return fmt.Errorf("extractor.timeout must be positive")
	}
	if c.Extractor.ReadsPerSecond < 0 {
		return fmt.Errorf("extractor.reads_per_second must not be negative")
	}
	if c.Extractor.ReadsPerSecond > 0 && c.Extractor.Burst < 1 {
		return fmt.Errorf("extractor.burst must be at least 1 when reads_per_second is set")
	}

	// Validate Dedup config
	if c.Dedup.MinRepeat <= 0 || c.Dedup.SignatureWindow <= 0 {
		return fmt.Errorf("dedup.min_repeat and dedup.signature_window must be positive")
	}
	if c.Dedup.RecentWindow < 0 || c.Dedup.RecentDepth < 0 {
		return fmt.Errorf("dedup.recent_window and dedup.recent_depth must not be negative")
	}
	if c.Dedup.SequenceDepth < 1 {
		return fmt.Errorf("dedup.sequence_depth must be at least 1")
	}
	if c.Dedup.MaxSignatures < 2 {
		return fmt.Errorf("dedup.max_signatures must be at least 2")
	}

	// Validate Health config
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive")
	}
	if c.Health.MinInterval <= 0 || c.Health.MaxInterval < c.Health.MinInterval {
		return fmt.Errorf("health.min_interval must be positive and not exceed health.max_interval")
	}
	if c.Health.InitialInterval < c.Health.MinInterval || c.Health.InitialInterval > c.Health.MaxInterval {
		return fmt.Errorf("health.initial_interval must be between health.min_interval and health.max_interval")
	}
	if c.Health.ShrinkFactor <= 0 || c.Health.ShrinkFactor > 1 {
		return fmt.Errorf("health.shrink_factor must be in (0, 1]")
	}
	if c.Health.GrowFactor < 1 {
		return fmt.Errorf("health.grow_factor must be at least 1")
	}
	if c.Health.MaxRestartAttempts < 1 {
		return fmt.Errorf("health.max_restart_attempts must be at least 1")
	}
	if c.Health.RestartBaseDelay <= 0 || c.Health.RestartCooldown <= 0 {
		return fmt.Errorf("health.restart_base_delay and health.restart_cooldown must be positive")
	}

	// Validate Notifier config
	if c.Notifier.HistorySize < 1 || c.Notifier.MailboxSize < 1 {
		return fmt.Errorf("notifier.history_size and notifier.mailbox_size must be at least 1")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxOutcomesPerTable < 10 {
		return fmt.Errorf("storage.max_outcomes_per_table must be at least 10")
	}
	if c.Storage.RotateInterval < time.Minute {
		return fmt.Errorf("storage.rotate_interval must be at least 1 minute")
	}
	if c.Storage.PersistTimeout <= 0 {
		return fmt.Errorf("storage.persist_timeout must be positive")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// GetSourceConfig returns the Source configuration
func (c *Config) GetSourceConfig() SourceConfig {
	return c.Source
}

// GetHealthConfig returns the Health configuration
func (c *Config) GetHealthConfig() HealthConfig {
	return c.Health
}

// GetTelegramConfig returns the Telegram configuration
func (c *Config) GetTelegramConfig() TelegramConfig {
	return c.Telegram
}

// GetStorageConfig returns the Storage configuration
func (c *Config) GetStorageConfig() StorageConfig {
	return c.Storage
}

// GetLoggingConfig returns the Logging configuration
func (c *Config) GetLoggingConfig() LoggingConfig {
	return c.Logging
}
