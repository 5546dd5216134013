package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Authorization, Content-Type, X-Idempotency-Key, X-Trace-ID, X-Correlation-ID"
	// Клиенту нужны trace_id для обращений в поддержку и остаток лимита.
	corsExposed = "X-Trace-ID, X-Correlation-ID, X-RateLimit-Remaining, Retry-After"
	corsMaxAge  = "600"
)

// CORS разрешает кросс-доменные запросы витрины и админки.
// Пустой список или "*" открывает API для любого источника, но без credentials.
func CORS(origins []string) gin.HandlerFunc {
	wildcard := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			allowed[strings.TrimRight(o, "/")] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if _, ok := allowed[origin]; ok {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else if wildcard {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			// Чужой origin: заголовки не ставим, браузер сам заблокирует ответ.
			c.Next()
			return
		}
		h.Set("Access-Control-Expose-Headers", corsExposed)

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// APIHeaders выставляет заголовки для JSON API.
// Ответы с заказами содержат расшифрованные e-mail и имя покупателя,
// поэтому кеширование запрещено целиком.
func APIHeaders(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
