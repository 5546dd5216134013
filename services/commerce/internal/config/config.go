// Package config содержит конфигурацию сервиса commerce.
package config

import (
	"fmt"
	"time"

	pkgconfig "example.com/learning-commerce/pkg/config"
)

// Config содержит полную конфигурацию commerce.
// Общие секции (MySQL, Redis, Kafka, шифрование, часовой пояс) берутся из pkg/config.
type Config struct {
	pkgconfig.Config

	HTTP      HTTPConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Xendit    XenditConfig
	Checkout  CheckoutConfig
	Workers   WorkersConfig
}

// HTTPConfig — настройки HTTP сервера.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// Источники витрины и админки через запятую.
	CORSOrigins []string `env:"HTTP_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig — настройки валидации JWT токенов.
// Commerce только проверяет токены публичным ключом, выпуском занимается сервис пользователей.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH,notEmpty"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"learning-platform"`
}

// RateLimitConfig — настройки ограничения запросов.
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"` // Количество запросов
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`    // Временное окно
}

// XenditConfig — настройки платёжного шлюза Xendit.
type XenditConfig struct {
	APIKey        string        `env:"XENDIT_API_KEY"`
	CallbackToken string        `env:"XENDIT_CALLBACK_TOKEN"`
	BaseURL       string        `env:"XENDIT_BASE_URL" envDefault:"https://api.xendit.co"`
	Timeout       time.Duration `env:"XENDIT_TIMEOUT" envDefault:"10s"`
	SuccessURL    string        `env:"XENDIT_SUCCESS_REDIRECT_URL"`
	FailureURL    string        `env:"XENDIT_FAILURE_REDIRECT_URL"`
}

// CheckoutConfig — бизнес-настройки оформления заказа.
type CheckoutConfig struct {
	// PaymentWindow — сколько живёт неоплаченный заказ.
	PaymentWindow time.Duration `env:"PAYMENT_WINDOW" envDefault:"24h"`

	// StatusCacheTTL — время жизни кэша статуса заказа для polling.
	StatusCacheTTL time.Duration `env:"ORDER_STATUS_CACHE_TTL" envDefault:"5s"`

	// AutoMigrate создаёт таблицы при старте. Только для локальной разработки.
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"false"`
}

// WorkersConfig — настройки фоновых воркеров.
type WorkersConfig struct {
	SweepInterval  time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatchSize int           `env:"EXPIRY_SWEEP_BATCH" envDefault:"100"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxRetries   int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`

	// NotifyQueueSize — ёмкость очереди post-commit уведомлений.
	NotifyQueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"1024"`
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

// Validate проверяет общие настройки и секреты шлюза.
// В production без ключей Xendit сервис не стартует.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Checkout.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW должен быть больше нуля")
	}
	if !c.IsProduction() {
		return nil
	}
	if c.Xendit.APIKey == "" {
		return fmt.Errorf("%w: XENDIT_API_KEY", pkgconfig.ErrMissingSecret)
	}
	if c.Xendit.CallbackToken == "" {
		return fmt.Errorf("%w: XENDIT_CALLBACK_TOKEN", pkgconfig.ErrMissingSecret)
	}
	return nil
}
