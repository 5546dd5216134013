package jwt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Ключи Redis, которые пишет сервис аутентификации при logout и бане.
// Commerce их только читает.
const (
	revokedTokenPrefix = "jwt:blacklist:"   // jwt:blacklist:{jti} = "1"
	revokedUserPrefix  = "jwt:invalidated:" // jwt:invalidated:{userID} = unix-время отзыва
)

// Revocations проверяет отзыв токена одним MGET по jti и пользователю.
type Revocations struct {
	redis redis.Cmdable
}

// NewRevocations создаёт проверку отзыва поверх Redis.
func NewRevocations(client redis.Cmdable) *Revocations {
	return &Revocations{redis: client}
}

// IsRevoked возвращает true, если отозван сам токен или все токены
// пользователя, выпущенные до отметки invalidated.
func (r *Revocations) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	vals, err := r.redis.MGet(ctx, revokedTokenPrefix+claims.ID, revokedUserPrefix+claims.UserID).Result()
	if err != nil {
		return false, fmt.Errorf("проверка отзыва токена: %w", err)
	}

	if claims.ID != "" && vals[0] != nil {
		return true, nil
	}
	if vals[1] == nil || claims.IssuedAt == nil {
		return false, nil
	}

	raw, _ := vals[1].(string)
	invalidatedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("битая отметка отзыва пользователя %s: %w", claims.UserID, err)
	}
	return claims.IssuedAt.Unix() < invalidatedAt, nil
}
