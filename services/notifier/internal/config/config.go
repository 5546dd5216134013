// Package config содержит конфигурацию сервиса notifier.
package config

import (
	"fmt"
	"time"

	pkgconfig "example.com/learning-commerce/pkg/config"
)

// Config содержит полную конфигурацию notifier.
type Config struct {
	pkgconfig.Config

	SMTP     SMTPConfig
	Consumer ConsumerConfig
	Dedup    DedupConfig
}

// SMTPConfig — настройки почтового сервера.
type SMTPConfig struct {
	Host     string        `env:"SMTP_HOST" envDefault:"localhost"`
	Port     int           `env:"SMTP_PORT" envDefault:"1025"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM" envDefault:"no-reply@learning.example.com"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес SMTP сервера.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConsumerConfig — настройки чтения commerce.notifications.
type ConsumerConfig struct {
	GroupID    string        `env:"NOTIFIER_CONSUMER_GROUP" envDefault:"notifier"`
	MaxRetries int           `env:"NOTIFIER_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"NOTIFIER_RETRY_DELAY" envDefault:"100ms"`
}

// DedupConfig — защита от повторной отправки письма при повторной доставке события.
type DedupConfig struct {
	TTL time.Duration `env:"NOTIFIER_DEDUP_TTL" envDefault:"72h"`
}

// Load загружает конфигурацию из переменных окружения и проверяет её.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет общие настройки и параметры SMTP.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("SMTP_FROM не задан")
	}
	if c.Consumer.MaxRetries < 0 {
		return fmt.Errorf("NOTIFIER_MAX_RETRIES не может быть отрицательным")
	}
	if c.IsProduction() && c.SMTP.Password == "" {
		return fmt.Errorf("%w: SMTP_PASSWORD", pkgconfig.ErrMissingSecret)
	}
	return nil
}
