// Package config предоставляет загрузку общей конфигурации из переменных окружения.
// Общие секции (MySQL, Redis, Kafka, шифрование, бизнес-часовой пояс) используют
// оба сервиса: commerce и notifier. Специфичные настройки сервисы добавляют сами,
// встраивая Config в свою структуру.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит общую конфигурацию приложения.
type Config struct {
	App      AppConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
	Crypto   CryptoConfig
	Business BusinessConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"learning-commerce"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"learning_commerce"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
// Время храним в UTC: все timestamp нормализуются до записи.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"learning-commerce"`
}

// JaegerConfig содержит настройки трассировки (OTLP gRPC).
type JaegerConfig struct {
	Enabled     bool    `env:"JAEGER_ENABLED" envDefault:"true"`
	Host        string  `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort    int     `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CryptoConfig содержит ключ шифрования персональных данных.
// Из секрета через HKDF выводится 32-байтный ключ AES-256.
type CryptoConfig struct {
	PIIKey string `env:"PII_ENCRYPTION_KEY"`
}

// BusinessConfig содержит бизнес-настройки, общие для всех сервисов.
type BusinessConfig struct {
	// Timezone — часовой пояс, в котором режутся сутки для номеров счетов и ID.
	Timezone string `env:"BUSINESS_TIMEZONE" envDefault:"Asia/Jakarta"`
}

// Location возвращает *time.Location бизнес-часового пояса.
func (c BusinessConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("неизвестный часовой пояс %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ErrMissingSecret — в production не задан обязательный секрет.
var ErrMissingSecret = errors.New("не задан обязательный секрет")

// Load загружает конфигурацию в произвольную структуру из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
// Сервисы передают свою структуру, в которую встроен Config.
func Load(target any) error {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	if err := env.Parse(target); err != nil {
		return fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	return nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string, target any) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	if err := env.Parse(target); err != nil {
		return fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	return nil
}

// Validate проверяет общие инварианты конфигурации.
func (c *Config) Validate() error {
	if _, err := c.Business.Location(); err != nil {
		return err
	}
	if c.IsProduction() && c.Crypto.PIIKey == "" {
		return fmt.Errorf("%w: PII_ENCRYPTION_KEY", ErrMissingSecret)
	}
	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
