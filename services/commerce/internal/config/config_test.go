package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "example.com/learning-commerce/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 24*time.Hour, cfg.Checkout.PaymentWindow)
	assert.Equal(t, 5*time.Second, cfg.Checkout.StatusCacheTTL)
	assert.Equal(t, "https://api.xendit.co", cfg.Xendit.BaseURL)
	assert.Equal(t, "Asia/Jakarta", cfg.Business.Timezone)
	assert.Equal(t, 1024, cfg.Workers.NotifyQueueSize)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_CORSOriginsList(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("HTTP_CORS_ORIGINS", "https://app.example.com,https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_RequiresJWTKey(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ProductionSecrets(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.App.Env = "production"
		cfg.Business.Timezone = "UTC"
		cfg.Crypto.PIIKey = "secret"
		cfg.Checkout.PaymentWindow = time.Hour
		cfg.Xendit.APIKey = "xnd_key"
		cfg.Xendit.CallbackToken = "callback"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"все секреты заданы", func(*Config) {}, false},
		{"нет API ключа", func(c *Config) { c.Xendit.APIKey = "" }, true},
		{"нет токена вебхука", func(c *Config) { c.Xendit.CallbackToken = "" }, true},
		{"нет ключа PII", func(c *Config) { c.Crypto.PIIKey = "" }, true},
		{"development без секретов", func(c *Config) {
			c.App.Env = "development"
			c.Xendit = XenditConfig{}
		}, false},
		{"нулевое окно оплаты", func(c *Config) { c.Checkout.PaymentWindow = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_MissingSecretIsTyped(t *testing.T) {
	cfg := &Config{}
	cfg.App.Env = "production"
	cfg.Business.Timezone = "UTC"
	cfg.Crypto.PIIKey = "secret"
	cfg.Checkout.PaymentWindow = time.Hour

	assert.ErrorIs(t, cfg.Validate(), pkgconfig.ErrMissingSecret)
}
