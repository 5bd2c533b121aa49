// Package config loads the service configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with the FEES_ prefix (FEES_DATABASE_PATH)
//  2. config.toml
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Kafka     KafkaConfig
	Provider  ProviderConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type DatabaseConfig struct {
	// Path is the SQLite file; ":memory:" keeps everything in process.
	Path string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	CORSAllowOrigins []string
	// PollRate and PollBurst bound status polls per intent.
	PollRate  float64
	PollBurst int
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	NotificationTopic string
	AuditTopic        string
}

type ProviderConfig struct {
	// CallbackSecret signs provider callbacks. Empty disables the check,
	// which is only accepted outside production.
	CallbackSecret string
	// PollInterval and PollTimeout bound the server-side status wait.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Load reads config.toml from the given directories (the working
// directory when none are given) and applies env overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FEES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			PollRate:         v.GetFloat64("http.poll_rate"),
			PollBurst:        v.GetInt("http.poll_burst"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("scheduler.enabled"),
			Interval:    v.GetDuration("scheduler.interval"),
			Concurrency: v.GetInt("scheduler.concurrency"),
		},
		Kafka: KafkaConfig{
			Enabled:           v.GetBool("kafka.enabled"),
			Brokers:           v.GetStringSlice("kafka.brokers"),
			NotificationTopic: v.GetString("kafka.notification_topic"),
			AuditTopic:        v.GetString("kafka.audit_topic"),
		},
		Provider: ProviderConfig{
			CallbackSecret: v.GetString("provider.callback_secret"),
			PollInterval:   v.GetDuration("provider.poll_interval"),
			PollTimeout:    v.GetDuration("provider.poll_timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fees-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.path", "fees.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("http.poll_rate", 2.0)
	v.SetDefault("http.poll_burst", 4)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 24*time.Hour)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.notification_topic", "fees.notifications")
	v.SetDefault("kafka.audit_topic", "fees.audit")
	v.SetDefault("provider.poll_interval", 2*time.Second)
	v.SetDefault("provider.poll_timeout", 10*time.Second)
}

func (c *Config) validate() error {
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if c.HTTP.PollRate <= 0 || c.HTTP.PollBurst <= 0 {
		return fmt.Errorf("http.poll_rate and http.poll_burst must be positive")
	}
	if c.Provider.PollInterval <= 0 || c.Provider.PollTimeout <= 0 {
		return fmt.Errorf("provider.poll_interval and provider.poll_timeout must be positive")
	}
	if c.HTTP.WriteTimeout > 0 && c.Provider.PollTimeout >= c.HTTP.WriteTimeout {
		return fmt.Errorf("provider.poll_timeout (%s) must be shorter than http.write_timeout (%s)",
			c.Provider.PollTimeout, c.HTTP.WriteTimeout)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.IsProduction() && c.Provider.CallbackSecret == "" {
		return fmt.Errorf("provider.callback_secret is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.App.Port
}
