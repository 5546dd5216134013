package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/services/commerce/internal/domain"
)

const (
	orderStatusPrefix    = "commerce:order-status:"
	orderStatusGenPrefix = "commerce:order-status-gen:"

	// statusGenTTL должен превышать время чтения заказа из БД.
	statusGenTTL = time.Minute
)

var errStaleStatus = errors.New("поколение статуса изменилось")

// statusCache — короткоживущий кэш для GET /orders/:id/status.
// Значение: "{user_id}|{status}", владелец проверяется и при попадании в кэш.
//
// Каждая инвалидация увеличивает поколение заказа. Читатель запоминает
// поколение до похода в БД, и set под WATCH пропускает запись, если
// поколение успело смениться: устаревший статус не возвращается в кэш.
type statusCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func newStatusCache(rdb *redis.Client, ttl time.Duration) *statusCache {
	return &statusCache{redis: rdb, ttl: ttl}
}

func (c *statusCache) get(ctx context.Context, orderID string) (userID string, status domain.OrderStatus, ok bool) {
	if c.redis == nil {
		return "", "", false
	}

	v, err := c.redis.Get(ctx, orderStatusPrefix+orderID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Ошибка чтения кэша статуса")
		}
		return "", "", false
	}

	i := strings.LastIndex(v, "|")
	if i < 0 {
		return "", "", false
	}
	return v[:i], domain.OrderStatus(v[i+1:]), true
}

// generation возвращает текущее поколение заказа; "" если инвалидаций не было.
func (c *statusCache) generation(ctx context.Context, orderID string) string {
	if c.redis == nil {
		return ""
	}
	gen, err := c.redis.Get(ctx, orderStatusGenPrefix+orderID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Ошибка чтения поколения кэша статуса")
	}
	return gen
}

// set кладёт статус, только если поколение не изменилось с момента gen.
func (c *statusCache) set(ctx context.Context, orderID, userID string, status domain.OrderStatus, gen string) {
	if c.redis == nil {
		return
	}

	genKey := orderStatusGenPrefix + orderID
	err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleStatus
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, orderStatusPrefix+orderID, userID+"|"+string(status), c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleStatus), errors.Is(err, redis.TxFailedErr):
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Msg("Статус изменился во время чтения, кэш не обновлён")
	default:
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Ошибка записи кэша статуса")
	}
}

// invalidate удаляет статусы и сдвигает поколение после любой смены статуса заказа.
func (c *statusCache) invalidate(ctx context.Context, orderIDs ...string) {
	if c.redis == nil || len(orderIDs) == 0 {
		return
	}

	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = orderStatusPrefix + id
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range orderIDs {
			pipe.Incr(ctx, orderStatusGenPrefix+id)
			pipe.Expire(ctx, orderStatusGenPrefix+id, statusGenTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Strs("order_ids", orderIDs).Msg("Ошибка инвалидации кэша статуса")
	}
}
