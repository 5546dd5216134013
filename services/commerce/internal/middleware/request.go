package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"example.com/learning-commerce/pkg/logger"
)

// Заголовки идентификаторов запроса.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
	// HeaderWebhookID Xendit повторяет при каждой повторной доставке колбэка.
	HeaderWebhookID = "webhook-id"
)

// RequestTracer связывает запрос с trace_id и correlation_id и пишет access-лог.
// Идентификаторы уходят в контекст: их подхватывают логи сервисов,
// заголовки записей outbox и письма notifier-а.
type RequestTracer struct {
	quiet map[string]struct{}
}

// NewRequestTracer создаёт трейсер. Для quietPaths access-лог не пишется
// (пробы Kubernetes дёргают /healthz каждые несколько секунд).
func NewRequestTracer(quietPaths ...string) *RequestTracer {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}
	return &RequestTracer{quiet: quiet}
}

// Handle возвращает gin middleware. Ставится после otelgin.
func (t *RequestTracer) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := resolveTraceID(c)
		correlationID := firstNonEmpty(c.GetHeader(HeaderCorrelationID), c.GetHeader(HeaderWebhookID), traceID)

		c.Request = c.Request.WithContext(logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID))
		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Set("trace_id", traceID)
		c.Set("correlation_id", correlationID)

		c.Next()

		if _, ok := t.quiet[c.Request.URL.Path]; ok {
			return
		}

		// Контекст берётся после c.Next(): auth к этому моменту добавил user_id.
		log := logger.FromContext(c.Request.Context())
		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("duration", time.Since(start)).
			Msg("HTTP запрос")
	}
}

// resolveTraceID: заголовок клиента, затем span otelgin, затем новый UUID.
// Совпадение с trace_id Jaeger позволяет искать запрос по логам и по трейсам.
func resolveTraceID(c *gin.Context) string {
	if id := firstNonEmpty(c.GetHeader(HeaderTraceID), c.GetHeader(HeaderRequestID)); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
