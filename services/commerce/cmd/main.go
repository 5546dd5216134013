// Package main — точка входа сервиса commerce.
// Commerce принимает заказы, выдаёт доступы, сверяет вебхуки Xendit
// и через outbox отправляет события уведомлений в Kafka.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/learning-commerce/pkg/crypto"
	"example.com/learning-commerce/pkg/db"
	"example.com/learning-commerce/pkg/healthcheck"
	"example.com/learning-commerce/pkg/jwt"
	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/outbox"
	"example.com/learning-commerce/pkg/redislock"
	"example.com/learning-commerce/pkg/tracing"
	"example.com/learning-commerce/services/commerce/internal/client"
	"example.com/learning-commerce/services/commerce/internal/config"
	"example.com/learning-commerce/services/commerce/internal/handler"
	"example.com/learning-commerce/services/commerce/internal/middleware"
	"example.com/learning-commerce/services/commerce/internal/notify"
	"example.com/learning-commerce/services/commerce/internal/repository"
	"example.com/learning-commerce/services/commerce/internal/service"
	"example.com/learning-commerce/services/commerce/internal/worker"
)

const serviceName = "commerce"

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
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Msg("Запуск commerce")

	// === Tracing ===

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

	// === Хранилища ===

	database, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к MySQL")
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}()
	logger.Info().Str("host", cfg.MySQL.Host).Str("database", cfg.MySQL.Database).Msg("Подключено к MySQL")

	if cfg.Checkout.AutoMigrate {
		if err := repository.AutoMigrate(database); err != nil {
			logger.Fatal().Err(err).Msg("Ошибка миграции схемы commerce")
		}
		if err := database.AutoMigrate(&outbox.Model{}); err != nil {
			logger.Fatal().Err(err).Msg("Ошибка миграции outbox")
		}
		logger.Info().Msg("Схема БД обновлена")
	}

	redisClient, err := db.ConnectRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к Redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()
	logger.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключено к Redis")

	loc, err := cfg.Business.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("Неизвестный бизнес-часовой пояс")
	}

	cipher, err := crypto.NewCipher(cfg.Crypto.PIIKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка инициализации шифрования PII")
	}

	// === Outbox -> Kafka ===

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}()

	outboxRepo := outbox.NewRepository(database, serviceName)

	outboxCfg := outbox.DefaultWorkerConfig()
	outboxCfg.PollInterval = cfg.Workers.OutboxPollInterval
	outboxCfg.BatchSize = cfg.Workers.OutboxBatchSize
	outboxCfg.MaxRetries = cfg.Workers.OutboxMaxRetries
	outboxWorker := outbox.NewWorker(outboxRepo, producer, outboxCfg, serviceName)
	outboxWorker.OnResult(func(result string) {
		metrics.OutboxMessages.WithLabelValues(serviceName, result).Inc()
	})

	hook := notify.NewHook(outboxRepo, cfg.Workers.NotifyQueueSize)

	// === Сервисы ===

	deps := service.Deps{
		Store:          repository.NewStore(database),
		Cipher:         cipher,
		Notifier:       hook,
		Redis:          redisClient,
		StatusCacheTTL: cfg.Checkout.StatusCacheTTL,
		Location:       loc,
		PaymentWindow:  cfg.Checkout.PaymentWindow,
	}

	locker := redislock.New(redisClient, "commerce:lock:")

	xendit := client.NewXenditClient(client.XenditConfig{
		BaseURL: cfg.Xendit.BaseURL,
		APIKey:  cfg.Xendit.APIKey,
		Timeout: cfg.Xendit.Timeout,
	})

	orderService := service.NewOrderService(deps, xendit, locker, service.PaymentConfig{
		SuccessRedirectURL: cfg.Xendit.SuccessURL,
		FailureRedirectURL: cfg.Xendit.FailureURL,
	})
	accessService := service.NewAccessService(deps)
	webhookService := service.NewWebhookService(deps, cfg.Xendit.CallbackToken)
	expiryService := service.NewExpiryService(deps)

	expiryWorker := worker.NewExpiryWorker(expiryService, locker, worker.ExpiryWorkerConfig{
		Interval:  cfg.Workers.SweepInterval,
		BatchSize: cfg.Workers.SweepBatchSize,
	})

	// === Фоновые воркеры ===

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	go hook.Run(workersCtx)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(workersCtx)
	}()
	go func() {
		defer wg.Done()
		expiryWorker.Run(workersCtx)
	}()

	// === HTTP ===

	validator, err := jwt.NewValidator(jwt.Config{
		PublicKeyPath: cfg.JWT.PublicKeyPath,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки публичного ключа JWT")
	}
	validator.SetRevocations(jwt.NewRevocations(redisClient))

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  redisClient,
			Limit:  cfg.RateLimit.RequestsLimit,
			Window: cfg.RateLimit.Window,
		})
		logger.Info().
			Int("limit", cfg.RateLimit.RequestsLimit).
			Dur("window", cfg.RateLimit.Window).
			Msg("Rate limiting включён")
	}

	readiness := healthcheck.Composite(
		healthcheck.Database(database),
		healthcheck.Redis(redisClient),
	)

	router := handler.NewRouter(handler.RouterConfig{
		Orders:         orderService,
		Accesses:       accessService,
		Webhooks:       webhookService,
		AuthMW:         middleware.NewAuthMiddleware(validator),
		RateLimitMW:    rateLimitMW,
		Tracer:         middleware.NewRequestTracer("/healthz", "/readyz"),
		ReadinessCheck: handler.ReadinessChecker(readiness),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		HSTS:           cfg.IsProduction(),
		Debug:          cfg.IsDevelopment(),
	})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readiness)))
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Сначала HTTP: новые события перестают поступать в hook.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Ошибка при остановке HTTP сервера")
	}

	stopWorkers()
	hook.Wait()
	wg.Wait()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	logger.Info().Msg("Commerce остановлен")
}
