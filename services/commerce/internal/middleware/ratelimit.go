package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/learning-commerce/pkg/logger"
)

const rateLimitKeyPrefix = "commerce:rate:"

// RateLimitConfig — параметры ограничения запросов к API заказов и доступов.
type RateLimitConfig struct {
	Redis  *redis.Client
	Limit  int           // по умолчанию 100
	Window time.Duration // по умолчанию минута
}

// RateLimitMiddleware ограничивает число запросов с одного IP
// фиксированным окном в Redis. При недоступности Redis запросы пропускаются.
type RateLimitMiddleware struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimitMiddleware создаёт limiter с подставленными значениями по умолчанию.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimitMiddleware{redis: cfg.Redis, limit: cfg.Limit, window: cfg.Window, now: time.Now}
}

// Handle возвращает gin middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		count, ttl, err := m.hit(ctx, rateLimitKeyPrefix+ip)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Rate limit недоступен, запрос пропущен")
			c.Next()
			return
		}

		remaining := m.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(m.now().Add(ttl).Unix(), 10))

		if int(count) <= m.limit {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(ttl.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		logger.Ctx(ctx).Warn().
			Str("client_ip", ip).
			Int64("count", count).
			Int("retry_after", retryAfter).
			Msg("Превышен лимит запросов")

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": "Слишком много запросов, повторите позже",
		})
	}
}

// hit увеличивает счётчик окна и возвращает его значение и остаток окна.
// Окно открывается первым запросом: TTL ставится только ключу без срока жизни.
func (m *RateLimitMiddleware) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := m.redis.PExpire(ctx, key, m.window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = m.window
	}
	return incr.Val(), ttl, nil
}
