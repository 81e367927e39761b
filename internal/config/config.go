package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the alert engine configuration
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Log           LogConfig          `mapstructure:"log"`
	HTTP          HTTPConfig         `mapstructure:"http"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	NATS          NATSConfig         `mapstructure:"nats"`
	Engine        EngineConfig       `mapstructure:"engine"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	TriggerPath  string        `mapstructure:"trigger_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	// CronSecret is the bearer token required by the trigger and operator endpoints
	CronSecret string `mapstructure:"cron_secret"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables distributed rule leases when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig enables lifecycle events and the in-app channel when URL is set
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

type EngineConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	IOTimeout     time.Duration `mapstructure:"io_timeout"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	TriggerTTL    time.Duration `mapstructure:"trigger_ttl"`
	CooldownFloor time.Duration `mapstructure:"cooldown_floor"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
}

type ScheduleConfig struct {
	// Cron is a six-field (with seconds) expression; empty disables the in-process trigger
	Cron string `mapstructure:"cron"`
}

type NotificationConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Email         EmailConfig   `mapstructure:"email"`
	SMS           WebhookConfig `mapstructure:"sms"`
	Push          WebhookConfig `mapstructure:"push"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	PrometheusURL string `mapstructure:"prometheus_url"`
	DockerEnabled bool   `mapstructure:"docker_enabled"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alertd")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trigger_path", "/api/cron/evaluate-alerts")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 5*time.Minute)

	v.SetDefault("auth.cron_secret", "")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "alertd.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("engine.io_timeout", 10*time.Second)
	v.SetDefault("engine.run_timeout", 4*time.Minute)
	v.SetDefault("engine.trigger_ttl", 24*time.Hour)
	v.SetDefault("engine.cooldown_floor", time.Duration(0))
	v.SetDefault("engine.lease_ttl", 2*time.Minute)

	v.SetDefault("schedule.cron", "")

	v.SetDefault("notifications.concurrency", 4)
	v.SetDefault("notifications.rate_per_second", 20.0)
	v.SetDefault("notifications.burst", 5)
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.sms.timeout", 10*time.Second)
	v.SetDefault("notifications.push.timeout", 10*time.Second)

	v.SetDefault("metrics.prometheus_url", "")
	v.SetDefault("metrics.docker_enabled", false)
}

// Load reads configuration from path (optional), a .env file and ALERTD_* environment variables
func Load(path string) (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("ALERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be positive, got %d", c.Engine.Concurrency)
	}
	if c.Engine.IOTimeout <= 0 {
		return fmt.Errorf("engine.io_timeout must be positive")
	}
	if c.Engine.TriggerTTL <= 0 {
		return fmt.Errorf("engine.trigger_ttl must be positive")
	}
	if c.Engine.CooldownFloor < 0 {
		return fmt.Errorf("engine.cooldown_floor must not be negative")
	}
	if c.Notifications.Concurrency < 1 {
		return fmt.Errorf("notifications.concurrency must be positive, got %d", c.Notifications.Concurrency)
	}
	return nil
}
