package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/services/commerce/internal/middleware"
)

// userID возвращает ID пользователя, выставленный AuthMiddleware.
// Если его нет, отвечает 401 и возвращает false.
func userID(c *gin.Context) (string, bool) {
	log := logger.FromContext(c.Request.Context())

	raw, exists := c.Get(middleware.ContextUserID)
	if !exists {
		log.Warn().Msg("user_id не найден в контексте")
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется авторизация",
		})
		return "", false
	}

	id, ok := raw.(string)
	if !ok || id == "" {
		log.Error().Interface("user_id", raw).Msg("user_id не является строкой — баг в middleware")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return "", false
	}

	return id, true
}

// idempotencyKey возвращает ключ, проверенный RequireIdempotencyKey,
// или сырой заголовок: сервис проверит его сам.
func idempotencyKey(c *gin.Context) string {
	if key := c.GetString(middleware.ContextIdempotencyKey); key != "" {
		return key
	}
	return c.GetHeader(middleware.HeaderIdempotencyKey)
}
