package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/commerce/internal/middleware"
)

const serviceName = "commerce"

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация роутера.
type Router struct {
	engine         *gin.Engine
	orders         OrderService
	accesses       AccessService
	webhooks       WebhookService
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	tracer         *middleware.RequestTracer
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Orders         OrderService
	Accesses       AccessService
	Webhooks       WebhookService
	AuthMW         *middleware.AuthMiddleware      // обязателен
	RateLimitMW    *middleware.RateLimitMiddleware // nil — без ограничения
	Tracer         *middleware.RequestTracer
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	CORSOrigins    []string
	HSTS           bool // только за TLS-терминатором в production
	Debug          bool // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORSOrigins))
	engine.Use(middleware.APIHeaders(cfg.HSTS))

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware(serviceName))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware(serviceName))

	r := &Router{
		engine:         engine,
		orders:         cfg.Orders,
		accesses:       cfg.Accesses,
		webhooks:       cfg.Webhooks,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		tracer:         cfg.Tracer,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	if r.tracer != nil {
		r.engine.Use(r.tracer.Handle())
	}

	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// === Вебхуки (аутентификация по x-callback-token внутри сервиса) ===
	webhookHandler := NewWebhookHandler(r.webhooks)
	r.engine.POST("/payments/webhook/xendit/invoices", webhookHandler.XenditInvoice)

	// Пользовательский и админский API: rate limit и bearer-токен.
	api := r.engine.Group("/")
	if r.rateLimitMW != nil {
		api.Use(r.rateLimitMW.Handle())
	}
	api.Use(r.authMW.Handle())

	// === Заказы покупателя ===
	orderHandler := NewOrderHandler(r.orders)
	orders := api.Group("/orders")
	{
		orders.POST("", middleware.RequireIdempotencyKey(), orderHandler.CreateOrder)
		orders.GET("/:id", orderHandler.GetOrder)
		orders.GET("/:id/status", orderHandler.GetOrderStatus)
		orders.POST("/:id/payment", orderHandler.PayOrder)
	}

	// === Доступы ===
	accessHandler := NewAccessHandler(r.accesses)
	accesses := api.Group("/accesses")
	accesses.GET("/me", accessHandler.ListMine)

	admin := accesses.Group("", middleware.RequireAdmin())
	{
		admin.POST("", middleware.RequireIdempotencyKey(), accessHandler.Grant)
		admin.PATCH("/plan", middleware.RequireIdempotencyKey(), accessHandler.ChangePlan)
		admin.POST("/revoke", accessHandler.Revoke)
		admin.POST("/tests", accessHandler.UpsertTests)
		admin.DELETE("/tests/:id", accessHandler.DeleteTest)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — liveness probe: сервер отвечает, значит процесс жив.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe: MySQL и Redis доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
