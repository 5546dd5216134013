// Package main — точка входа сервиса notifier.
// Notifier читает commerce.notifications и отправляет письма через SMTP.
// Сообщения, которые не удалось обработать после повторов, уходят в DLQ.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"example.com/learning-commerce/pkg/crypto"
	"example.com/learning-commerce/pkg/db"
	"example.com/learning-commerce/pkg/healthcheck"
	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/tracing"
	"example.com/learning-commerce/services/notifier/internal/config"
	"example.com/learning-commerce/services/notifier/internal/consumer"
	"example.com/learning-commerce/services/notifier/internal/mailer"
	"example.com/learning-commerce/services/notifier/internal/templates"
)

const serviceName = "notifier"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})

	logger.Info().
		Str("env", cfg.App.Env).
		Str("smtp", cfg.SMTP.Addr()).
		Msg("Запуск notifier")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Jaeger.OTLPEndpoint(),
		SampleRatio: cfg.Jaeger.SampleRatio,
		Enabled:     cfg.Jaeger.Enabled,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Зависимости ===

	redisClient, err := db.ConnectRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к Redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	cipher, err := crypto.NewCipher(cfg.Crypto.PIIKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка инициализации шифрования PII")
	}

	loc, err := cfg.Business.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("Неизвестный бизнес-часовой пояс")
	}

	renderer, err := templates.New(loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки шаблонов писем")
	}

	smtpMailer := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	})

	// === Kafka ===

	dlqProducer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	defer func() {
		if err := dlqProducer.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}()

	kafkaConsumer, err := kafka.NewConsumer(kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Consumer.GroupID,
		DLQTopic:      kafka.TopicNotificationsDLQ,
	}, kafka.TopicNotifications)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
	}
	kafkaConsumer.SetDLQProducer(dlqProducer)

	processor := consumer.NewProcessor(renderer, smtpMailer, cipher, redisClient, cfg.Dedup.TTL)
	runner := consumer.NewRunner(kafkaConsumer, processor, kafka.RetryPolicy{
		MaxRetries: cfg.Consumer.MaxRetries,
		BaseDelay:  cfg.Consumer.BaseDelay,
	})

	// === Metrics и probes ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		readiness := healthcheck.Composite(
			healthcheck.Redis(redisClient),
			healthcheck.Kafka(cfg.Kafka.Brokers),
		)
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readiness)))
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Обработка событий ===

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("Паника в обработчике уведомлений")
			}
		}()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Ошибка обработчика уведомлений")
		}
	}()

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Получен сигнал завершения, останавливаем notifier...")

	cancel()
	wg.Wait()

	if err := runner.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	logger.Info().Msg("Notifier остановлен")
}
