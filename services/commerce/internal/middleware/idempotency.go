package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/learning-commerce/pkg/logger"
)

// HeaderIdempotencyKey — заголовок с ключом идемпотентности создающих запросов.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// ContextIdempotencyKey — ключ gin.Context с проверенным значением заголовка.
const ContextIdempotencyKey = "idempotency_key"

// RequireIdempotencyKey отклоняет запросы без UUID в x-idempotency-key.
// Ответ 403 invalid_idempotency_key совпадает с тем, что вернул бы сервис.
func RequireIdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if _, err := uuid.Parse(key); err != nil {
			logger.Ctx(c.Request.Context()).Debug().
				Str("path", c.Request.URL.Path).
				Msg("Отсутствует или невалиден ключ идемпотентности")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "invalid_idempotency_key",
				"message": "Заголовок x-idempotency-key должен содержать UUID",
			})
			return
		}
		c.Set(ContextIdempotencyKey, key)
		c.Next()
	}
}
