package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	Store       string `env:"STORE"        envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL string `env:"DATABASE_URL"                       validate:"required_if=Store postgres"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	TickIntervalMS int    `env:"TICK_INTERVAL_MS" envDefault:"1000"      validate:"min=10,max=60000"`
	CircleDiameter int    `env:"CIRCLE_DIAMETER"  envDefault:"240"       validate:"min=20,max=2000"`
	AlertSweepCron string `env:"ALERT_SWEEP_CRON" envDefault:"* * * * *" validate:"required"`
	WriteQueueSize int    `env:"WRITE_QUEUE_SIZE" envDefault:"256"       validate:"min=1,max=100000"`

	NotifyEmailTo string `env:"NOTIFY_EMAIL_TO" validate:"omitempty,email"`
	ResendAPIKey  string `env:"RESEND_API_KEY"  validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"     validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := cron.ParseStandard(cfg.AlertSweepCron); err != nil {
		return nil, fmt.Errorf("invalid config: ALERT_SWEEP_CRON %q: %w", cfg.AlertSweepCron, err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}
