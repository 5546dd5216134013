package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

const (
	// idempotencyKeyPrefix — префикс ключей идемпотентности в Redis.
	idempotencyKeyPrefix = "commerce:idempotency:"

	// idempotencyTTL — сколько Redis помнит соответствие ключ -> заказ.
	idempotencyTTL = 24 * time.Hour
)

// validateIdempotencyKey требует UUID.
func validateIdempotencyKey(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return domain.ErrInvalidIdempotencyKey
	}
	return nil
}

// idempotencyStore находит заказ по ключу идемпотентности.
// Источник правды — уникальный индекс orders.idempotency_key;
// Redis лишь запоминает ID заказа, чтобы повтор читал строку по первичному ключу.
type idempotencyStore struct {
	store repository.Store
	redis *redis.Client
}

func newIdempotencyStore(store repository.Store, rdb *redis.Client) *idempotencyStore {
	return &idempotencyStore{store: store, redis: rdb}
}

// lookup возвращает существующий заказ или nil.
func (s *idempotencyStore) lookup(ctx context.Context, key string) (*domain.Order, error) {
	if s.redis != nil {
		orderID, err := s.redis.Get(ctx, idempotencyKeyPrefix+key).Result()
		switch {
		case err == nil:
			order, dbErr := s.store.Orders().GetByID(ctx, orderID)
			if dbErr == nil {
				return order, nil
			}
			if !errors.Is(dbErr, domain.ErrOrderNotFound) {
				return nil, dbErr
			}
		case errors.Is(err, redis.Nil):
		default:
			// При ошибке Redis продолжаем: БД защитит от дубликатов
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка Redis при проверке идемпотентности")
		}
	}

	order, err := s.store.Orders().GetByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.remember(ctx, key, order.ID)
	return order, nil
}

// remember сохраняет ключ -> ID заказа. Ошибка Redis не критична.
func (s *idempotencyStore) remember(ctx context.Context, key, orderID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, idempotencyKeyPrefix+key, orderID, idempotencyTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Ошибка записи ключа идемпотентности в Redis")
	}
}

// replay реализует короткое замыкание по ключу идемпотентности.
// matches проверяет, что ключ использован тем же запросом (владелец, сценарий);
// иначе ErrIdempotencyKeyConflict.
func (c *core) replay(ctx context.Context, key string, matches func(*domain.Order) bool) (*domain.OrderRef, error) {
	order, err := c.idem.lookup(ctx, key)
	if err != nil || order == nil {
		return nil, err
	}

	if !matches(order) {
		logger.Ctx(ctx).Warn().
			Str("order_id", order.ID).
			Msg("Ключ идемпотентности уже использован другим запросом")
		return nil, domain.ErrIdempotencyKeyConflict
	}

	metrics.IdempotentReplays.WithLabelValues(string(order.Flow)).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("invoice_number", order.InvoiceNumber).
		Msg("Заказ уже существует (идемпотентность)")

	ref := order.Ref()
	ref.Replayed = true
	return &ref, nil
}

// replayAfterRace вызывается, когда вставка упала на уникальном индексе:
// параллельный запрос с тем же ключом успел зафиксировать заказ.
func (c *core) replayAfterRace(ctx context.Context, key string, matches func(*domain.Order) bool) (*domain.OrderRef, error) {
	ref, err := c.replay(ctx, key, matches)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, domain.ErrDuplicateOrder
	}
	logger.Ctx(ctx).Info().Str("order_id", ref.OrderID).Msg("Заказ создан параллельным запросом (race condition)")
	return ref, nil
}

func ownedBy(userID string, flow domain.OrderFlow) func(*domain.Order) bool {
	return func(o *domain.Order) bool {
		return o.UserID == userID && o.Flow == flow
	}
}
