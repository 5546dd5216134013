package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/services/commerce/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusByKind — HTTP статус для каждого класса доменной ошибки.
// Unauthorized здесь означает неверный токен вебхука: неверный bearer токен
// отсекает AuthMiddleware с 401 раньше, чем запрос дойдёт до сервиса.
var statusByKind = map[domain.Kind]int{
	domain.KindValidation:   http.StatusBadRequest,
	domain.KindNotFound:     http.StatusNotFound,
	domain.KindConflict:     http.StatusConflict,
	domain.KindForbidden:    http.StatusForbidden,
	domain.KindTimeout:      http.StatusRequestTimeout,
	domain.KindUnauthorized: http.StatusForbidden,
	domain.KindUnavailable:  http.StatusServiceUnavailable,
}

// HandleError преобразует ошибку сервиса в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
// ВАЖНО: err не должен быть nil — это баг в вызывающем коде.
func HandleError(c *gin.Context, err error, method string) {
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	kind := domain.KindOf(err)
	httpStatus, ok := statusByKind[kind]
	if !ok {
		// Детали внутренних ошибок клиенту не отдаём.
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	if httpStatus >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", method).Msg("Зависимость недоступна")
	} else {
		log.Debug().Err(err).Str("method", method).Str("kind", kind.String()).Msg("Запрос отклонён")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   domain.CodeOf(err),
		Message: err.Error(),
	})
}

// badRequest отвечает 400 на невалидное тело запроса.
func badRequest(c *gin.Context, err error, method string) {
	logger.Ctx(c.Request.Context()).Debug().Err(err).Str("method", method).Msg("Невалидный запрос")
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: "Невалидные данные запроса",
	})
}
