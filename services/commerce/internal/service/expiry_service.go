package service

import (
	"context"
	"errors"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/tracing"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// ExpiryService переводит просроченные заказы и доступы в expired.
// Каждая строка обрабатывается отдельной транзакцией с условным обновлением,
// поэтому параллельная оплата выигрывает или проигрывает целиком.
type ExpiryService struct {
	*core
}

// NewExpiryService создаёт сервис истечения.
func NewExpiryService(d Deps) *ExpiryService {
	return &ExpiryService{core: newCore(d)}
}

// ExpireOrders обрабатывает до limit pending заказов с истёкшим окном оплаты.
func (s *ExpiryService) ExpireOrders(ctx context.Context, limit int) (expired int, err error) {
	ctx, span := tracing.Start(ctx, "expiry.ExpireOrders")
	defer tracing.End(span, &err)

	now := s.now()
	ids, err := s.store.Orders().ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		var order *domain.Order
		txErr := s.store.WithinTx(ctx, func(tx repository.Store) error {
			locked, err := tx.Orders().GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if locked.Status != domain.OrderStatusPending || !locked.PaymentWindowClosed(now) {
				return nil
			}
			if err := expireOrderTx(ctx, tx, locked, now); err != nil {
				return err
			}
			order = locked
			return nil
		})
		if txErr != nil {
			if errors.Is(txErr, domain.ErrInvalidTransition) {
				continue
			}
			logger.Ctx(ctx).Error().Err(txErr).Str("order_id", id).Msg("Ошибка истечения заказа")
			continue
		}
		if order != nil {
			s.afterExpire(ctx, order, "sweep")
			expired++
		}
	}
	return expired, nil
}

// ExpireAccesses обрабатывает до limit активных доступов с истёкшим сроком.
func (s *ExpiryService) ExpireAccesses(ctx context.Context, limit int) (expired int, err error) {
	ctx, span := tracing.Start(ctx, "expiry.ExpireAccesses")
	defer tracing.End(span, &err)

	now := s.now()
	ids, err := s.store.Accesses().ListExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		var done bool
		txErr := s.store.WithinTx(ctx, func(tx repository.Store) error {
			a, err := tx.Accesses().GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if a.Status != domain.AccessStatusActive || !now.After(a.ExpiredAt) {
				return nil
			}
			if err := expireAccessTx(ctx, tx, a, now); err != nil {
				return err
			}
			done = true
			return nil
		})
		if txErr != nil {
			if !errors.Is(txErr, domain.ErrAccessNotActive) {
				logger.Ctx(ctx).Error().Err(txErr).Str("access_id", id).Msg("Ошибка истечения доступа")
			}
			continue
		}
		if done {
			metrics.AccessTransitions.WithLabelValues("expired").Inc()
			expired++
		}
	}

	if expired > 0 {
		logger.Ctx(ctx).Info().Int("count", expired).Msg("Доступы истекли")
	}
	return expired, nil
}
