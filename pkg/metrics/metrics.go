// Package metrics предоставляет Prometheus метрики для всех сервисов:
// HTTP метрики запросов, доменные счётчики (заказы, вебхуки, доступы,
// уведомления) и отдельный HTTP сервер для /metrics, /healthz, /readyz.
//
// Использование:
//
//	srv := metrics.NewServer(":9090", "commerce", metrics.WithReadinessCheck(check))
//	go srv.Start()
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/learning-commerce/pkg/logger"
)

// =============================================================================
// HTTP метрики
// =============================================================================

var (
	// RequestsTotal — счётчик запросов по сервису, маршруту и статусу.
	// PromQL: rate(requests_total{service="commerce"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — гистограмма latency запросов.
	// PromQL: histogram_quantile(0.95, rate(request_duration_seconds_bucket[5m]))
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Доменные метрики
// =============================================================================

var (
	// OrdersCreated — созданные заказы по сценарию (checkout / admin_grant / plan_change).
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_orders_created_total",
			Help: "Созданные заказы по сценарию",
		},
		[]string{"flow"},
	)

	// IdempotentReplays — запросы, вернувшие уже существующий заказ по ключу идемпотентности.
	IdempotentReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_idempotent_replays_total",
			Help: "Повторы запросов, вернувшие существующий заказ",
		},
		[]string{"flow"},
	)

	// WebhooksReceived — вебхуки платёжного шлюза по статусу и результату обработки.
	// result: applied, duplicate, ignored, rejected, error.
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_webhooks_total",
			Help: "Вебхуки платёжного шлюза по статусу и результату",
		},
		[]string{"status", "result"},
	)

	// AccessTransitions — операции над доступами (granted, revoked, replaced, expired).
	AccessTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_access_transitions_total",
			Help: "Выдача, отзыв, замена и истечение доступов",
		},
		[]string{"action"},
	)

	// OrdersExpired — заказы, переведённые в expired фоновой проверкой или при попытке оплаты.
	OrdersExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_orders_expired_total",
			Help: "Истёкшие заказы по источнику",
		},
		[]string{"source"},
	)

	// GatewayRequests — запросы к платёжному шлюзу.
	GatewayRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commerce_gateway_request_duration_seconds",
			Help:    "Время запросов к платёжному шлюзу",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Notifications — уведомления: queued/dropped в commerce, sent/failed/skipped в notifier.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Уведомления по результату обработки",
		},
		[]string{"service", "result"},
	)

	// OutboxMessages — результаты отправки записей outbox в Kafka.
	OutboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Записи outbox по результату отправки",
		},
		[]string{"service", "result"},
	)
)

// =============================================================================
// HTTP Server для /metrics
// =============================================================================

// ReadinessChecker — проверка готовности сервиса принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер для экспорта метрик Prometheus и health probes.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz.
// Ошибка проверки превращается в 503 Service Unavailable.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт metrics server.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler возвращает mux с /metrics, /healthz и /readyz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// liveness: процесс жив, если отвечает
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})

	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		// Детали ошибки наружу не отдаём.
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check failed")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Start запускает сервер. Блокирующий вызов.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.httpServer.Addr).Str("service", s.service).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Запись метрик
// =============================================================================

// RecordRequest записывает метрики запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds.
// Метка method — шаблон маршрута (/orders/:order_id), а не сырой путь,
// чтобы ID заказов не раздували кардинальность.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordRequest(service, c.Request.Method+" "+route, status, time.Since(start))
	}
}
