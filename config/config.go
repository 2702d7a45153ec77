// Package config loads txsched configuration from txsched.toml and
// TXSCHED_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/solagent/txsched/errors"
)

// Config is the full daemon configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the poll loop.
type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// ExecutorConfig configures tool invocation.
type ExecutorConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds"`
	RatePerSecond     float64 `mapstructure:"rate_per_second"`
	RateBurst         int     `mapstructure:"rate_burst"`
}

// LogConfig configures log output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// PollInterval returns the poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-invocation timeout as a duration.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the delay between retries as a duration.
func (c ExecutorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "txsched.db")

	v.SetDefault("scheduler.poll_interval_seconds", 60)

	v.SetDefault("executor.timeout_seconds", 120)
	v.SetDefault("executor.max_retries", 2)
	v.SetDefault("executor.retry_delay_seconds", 5)
	v.SetDefault("executor.rate_per_second", 1.0)
	v.SetDefault("executor.rate_burst", 5)

	v.SetDefault("log.json", false)
}

// Load reads configuration from txsched.toml in the working directory
// (when present) plus TXSCHED_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("txsched")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TXSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}
