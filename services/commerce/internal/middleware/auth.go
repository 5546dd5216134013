// Package middleware содержит HTTP middleware сервиса commerce.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/jwt"
	"example.com/learning-commerce/pkg/logger"
)

// Ключи gin.Context, которые выставляет AuthMiddleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextJTI    = "jti"
)

// TokenValidator — интерфейс для валидации токенов.
// В production это *jwt.Validator: подпись проверяется публичным ключом,
// отзыв проверяется по Redis.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Claims, error)
}

// AuthMiddleware — middleware для проверки JWT токенов.
type AuthMiddleware struct {
	tokenValidator TokenValidator
}

// NewAuthMiddleware создаёт новый middleware для аутентификации.
func NewAuthMiddleware(tokenValidator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		tokenValidator: tokenValidator,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.tokenValidator.Validate(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextJTI, claims.ID)

		// user_id попадает во все логи запроса и в события outbox.
		c.Request = c.Request.WithContext(logger.WithUserID(ctx, claims.UserID))

		log.Debug().
			Str("user_id", claims.UserID).
			Str("jti", claims.ID).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// RequireAdmin пропускает только токены с ролью admin.
// Ставится после AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != jwt.RoleAdmin {
			logger.Ctx(c.Request.Context()).Warn().
				Str("user_id", c.GetString(ContextUserID)).
				Msg("Попытка доступа к админскому API без прав")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		}
		c.Next()
	}
}

// bearerToken достаёт токен из "Authorization: Bearer <token>".
// Схема сравнивается без учёта регистра.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
