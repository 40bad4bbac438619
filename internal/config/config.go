// Package config содержит логику чтения конфигурации портала кредитного сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrMissingStripeConfig возвращается, если не заданы ключи Stripe.
// Без них приём платежей и вебхуков невозможен, запуск прерывается.
var ErrMissingStripeConfig = errors.New("stripe credentials are not configured")

// Config содержит параметры конфигурации портала кредитного сервиса.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	BaseURL             string        `env:"BASE_URL"`
	AuthSecret          string        `env:"AUTH_SECRET"`
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	EmailServiceAddress string        `env:"EMAIL_SERVICE_ADDRESS"`
	SMSServiceAddress   string        `env:"SMS_SERVICE_ADDRESS"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "https://dewaynescredit.com", "base URL for checkout redirects")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет обязательные параметры. Отсутствие ключей Stripe —
// фатальная ошибка запуска: без них инициатор чекаута и обработчик вебхуков
// работать не могут.
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
		return ErrMissingStripeConfig
	}
	if c.DatabaseURI == "" {
		return errors.New("database URI is required")
	}
	return nil
}
