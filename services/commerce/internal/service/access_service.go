package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/tracing"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// defaultRevokeReason используется, если администратор не указал причину.
const defaultRevokeReason = "revoked by admin"

// GrantRequest — выдача доступа администратором.
type GrantRequest struct {
	Actor          string
	IdempotencyKey string
	UserID         string
	ProductID      string
	ProductType    string
	DiscountAmount int64
	DiscountCode   string

	// StartedAt — начало доступа; нулевое значение означает "сейчас".
	StartedAt time.Time
	SubGrants []domain.SubGrant
}

// ChangePlanRequest — замена доступа новым тарифом того же типа.
type ChangePlanRequest struct {
	Actor          string
	IdempotencyKey string
	AccessID       string
	ProductID      string
	ProductType    string
	DiscountAmount int64
	DiscountCode   string
}

// RevokeRequest — отзыв доступа.
type RevokeRequest struct {
	AccessID string
	Reason   string
	Actor    string
}

// GrantResult — заказ и выданный доступ. При повторе по ключу Access == nil.
type GrantResult struct {
	Order  domain.OrderRef
	Access *domain.Access
}

// AccessService определяет операции над доступами.
type AccessService interface {
	Grant(ctx context.Context, req GrantRequest) (*GrantResult, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*GrantResult, error)
	Revoke(ctx context.Context, req RevokeRequest) error
	UpsertSubGrants(ctx context.Context, accessID string, grants []domain.SubGrant, actor string) ([]domain.AccessTest, error)
	DeleteSubGrant(ctx context.Context, testID, actor string) error
	ListMine(ctx context.Context, userID string) ([]*domain.Access, error)
}

type accessService struct {
	*core
}

// NewAccessService создаёт сервис доступов.
func NewAccessService(d Deps) AccessService {
	return &accessService{core: newCore(d)}
}

// adminIssuable загружает продукт, который можно выдать без оплаты через шлюз.
func (s *accessService) adminIssuable(ctx context.Context, productID, productType string) (*domain.Product, error) {
	t, err := domain.ParseProductType(productType)
	if err != nil {
		return nil, err
	}
	product, err := s.store.Catalog().GetActiveProduct(ctx, productID, t)
	if err != nil {
		return nil, err
	}
	caps := product.Capabilities()
	if !caps.GrantsEntitlement || !caps.AdminIssuable {
		return nil, domain.ErrProductNotEligible
	}
	return product, nil
}

// Grant выдаёт доступ: заказ создаётся сразу оплаченным (шлюз manual),
// доступ и доступы к тестам в той же транзакции.
func (s *accessService) Grant(ctx context.Context, req GrantRequest) (result *GrantResult, err error) {
	ctx, span := tracing.Start(ctx, "access.Grant",
		attribute.String("user.id", req.UserID),
		attribute.String("product.id", req.ProductID),
	)
	defer tracing.End(span, &err)

	if err := validateIdempotencyKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := validateSubGrants(req.SubGrants); err != nil {
		return nil, err
	}

	matches := ownedBy(req.UserID, domain.FlowAdminGrant)
	if ref, err := s.replay(ctx, req.IdempotencyKey, matches); err != nil || ref != nil {
		return grantReplay(ref, err)
	}

	product, err := s.adminIssuable(ctx, req.ProductID, req.ProductType)
	if err != nil {
		return nil, err
	}
	if len(req.SubGrants) > 0 && !product.Capabilities().RequiresSubGrants {
		return nil, domain.ErrSubGrantsNotSupported
	}

	user, err := s.store.Users().GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var res *intakeResult
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		var txErr error
		res, txErr = s.createOrderTx(ctx, tx, intake{
			flow:         domain.FlowAdminGrant,
			key:          req.IdempotencyKey,
			actor:        req.Actor,
			user:         user,
			product:      product,
			discount:     req.DiscountAmount,
			discountCode: req.DiscountCode,
			startedAt:    req.StartedAt,
			subGrants:    req.SubGrants,
		}, now)
		return txErr
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		return grantReplay(s.replayAfterRace(ctx, req.IdempotencyKey, matches))
	}
	if err != nil {
		return nil, err
	}

	s.afterIntake(ctx, res)
	return &GrantResult{Order: res.order.Ref(), Access: res.access}, nil
}

// ChangePlan заменяет доступ новым тарифом в одной транзакции:
// отзыв старого доступа ("change plan"), старый заказ -> replaced,
// новый заказ и доступ с тем же started_at и теми же доступами к тестам.
func (s *accessService) ChangePlan(ctx context.Context, req ChangePlanRequest) (result *GrantResult, err error) {
	ctx, span := tracing.Start(ctx, "access.ChangePlan",
		attribute.String("access.id", req.AccessID),
		attribute.String("product.id", req.ProductID),
	)
	defer tracing.End(span, &err)

	if err := validateIdempotencyKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	matches := func(o *domain.Order) bool {
		return o.Flow == domain.FlowPlanChange && o.ReplacesAccessID != nil && *o.ReplacesAccessID == req.AccessID
	}
	if ref, err := s.replay(ctx, req.IdempotencyKey, matches); err != nil || ref != nil {
		return grantReplay(ref, err)
	}

	product, err := s.adminIssuable(ctx, req.ProductID, req.ProductType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		res      *intakeResult
		old      *domain.Access
		oldOrder *domain.Order
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		var txErr error
		old, txErr = tx.Accesses().GetByIDForUpdate(ctx, req.AccessID)
		if txErr != nil {
			return txErr
		}
		if old.Type != product.Type {
			return domain.ErrPlanTypeMismatch
		}

		user, txErr := tx.Users().GetByID(ctx, old.UserID)
		if txErr != nil {
			return txErr
		}

		entry, txErr := old.Revoke(domain.ReasonPlanChange, req.Actor, now)
		if txErr != nil {
			return txErr
		}
		if txErr = tx.Accesses().UpdateStatus(ctx, old, domain.AccessStatusActive); txErr != nil {
			return txErr
		}
		if txErr = tx.Accesses().AppendRevokeLog(ctx, entry); txErr != nil {
			return txErr
		}

		if old.OrderID != nil {
			oldOrder, txErr = tx.Orders().GetByIDForUpdate(ctx, *old.OrderID)
			if txErr != nil {
				return txErr
			}
			if oldOrder.Status == domain.OrderStatusPaid {
				if txErr = tx.Orders().UpdateStatus(ctx, oldOrder.ID, repository.OrderStatusUpdate{
					From:      domain.OrderStatusPaid,
					To:        domain.OrderStatusReplaced,
					UpdatedBy: req.Actor,
					At:        now,
				}); txErr != nil {
					return txErr
				}
				oldOrder.Status = domain.OrderStatusReplaced
			}
		}

		var subGrants []domain.SubGrant
		if product.Capabilities().RequiresSubGrants {
			subGrants = old.ToSubGrants()
		}
		replaces := old.ID
		res, txErr = s.createOrderTx(ctx, tx, intake{
			flow:         domain.FlowPlanChange,
			key:          req.IdempotencyKey,
			actor:        req.Actor,
			user:         user,
			product:      product,
			discount:     req.DiscountAmount,
			discountCode: req.DiscountCode,
			startedAt:    old.StartedAt,
			subGrants:    subGrants,
			replaces:     &replaces,
		}, now)
		return txErr
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		return grantReplay(s.replayAfterRace(ctx, req.IdempotencyKey, matches))
	}
	if err != nil {
		return nil, err
	}

	metrics.AccessTransitions.WithLabelValues("replaced").Inc()
	if oldOrder != nil {
		s.cache.invalidate(ctx, oldOrder.ID)
	}
	s.afterIntake(ctx, res)

	changed := accessEvent(events.PlanChanged, res.access, res.order)
	changed.Data["old_access_id"] = old.ID
	s.publish(ctx, changed)

	logger.Ctx(ctx).Info().
		Str("old_access_id", old.ID).
		Str("access_id", res.access.ID).
		Str("order_id", res.order.ID).
		Msg("Тариф доступа заменён")

	return &GrantResult{Order: res.order.Ref(), Access: res.access}, nil
}

// Revoke отзывает доступ. Отзыв не идемпотентен: повторный вызов
// и отзыв истёкшего доступа возвращают ErrAccessNotActive.
func (s *accessService) Revoke(ctx context.Context, req RevokeRequest) (err error) {
	ctx, span := tracing.Start(ctx, "access.Revoke", attribute.String("access.id", req.AccessID))
	defer tracing.End(span, &err)

	reason := req.Reason
	if reason == "" {
		reason = defaultRevokeReason
	}

	now := s.now()
	var (
		access *domain.Access
		order  *domain.Order
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		var txErr error
		access, txErr = tx.Accesses().GetByIDForUpdate(ctx, req.AccessID)
		if txErr != nil {
			return txErr
		}

		entry, txErr := access.Revoke(reason, req.Actor, now)
		if txErr != nil {
			return txErr
		}
		if txErr = tx.Accesses().UpdateStatus(ctx, access, domain.AccessStatusActive); txErr != nil {
			return txErr
		}
		if txErr = tx.Accesses().AppendRevokeLog(ctx, entry); txErr != nil {
			return txErr
		}

		if access.OrderID != nil {
			order, txErr = tx.Orders().GetByID(ctx, *access.OrderID)
			if txErr != nil && !errors.Is(txErr, domain.ErrOrderNotFound) {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.AccessTransitions.WithLabelValues("revoked").Inc()
	logger.Ctx(ctx).Info().
		Str("access_id", access.ID).
		Str("reason", reason).
		Str("actor", req.Actor).
		Msg("Доступ отозван")
	s.publish(ctx, accessEvent(events.AccessRevoked, access, order))
	return nil
}

// UpsertSubGrants добавляет или переименовывает доступы к тестам учреждений.
// Строки, которых нет в grants, остаются: удаление только явное.
func (s *accessService) UpsertSubGrants(ctx context.Context, accessID string, grants []domain.SubGrant, actor string) (tests []domain.AccessTest, err error) {
	ctx, span := tracing.Start(ctx, "access.UpsertSubGrants",
		attribute.String("access.id", accessID),
		attribute.Int("grants", len(grants)),
	)
	defer tracing.End(span, &err)

	if len(grants) == 0 {
		return nil, domain.ErrInvalidSubGrant
	}
	if err := validateSubGrants(grants); err != nil {
		return nil, err
	}
	grants = dedupeSubGrants(grants)

	now := s.now()
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		access, txErr := tx.Accesses().GetByIDForUpdate(ctx, accessID)
		if txErr != nil {
			return txErr
		}
		if !access.IsCurrentlyActive(now) {
			return domain.ErrAccessNotActive
		}
		caps, _ := domain.CapabilitiesOf(access.Type)
		if !caps.RequiresSubGrants {
			return domain.ErrSubGrantsNotSupported
		}

		tests, txErr = tx.Accesses().UpsertTests(ctx, accessID, grants, actor, now)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("access_id", accessID).
		Int("grants", len(grants)).
		Msg("Доступы к тестам учреждений обновлены")
	return tests, nil
}

// DeleteSubGrant удаляет доступ к тестам учреждения.
func (s *accessService) DeleteSubGrant(ctx context.Context, testID, actor string) (err error) {
	ctx, span := tracing.Start(ctx, "access.DeleteSubGrant", attribute.String("access_test.id", testID))
	defer tracing.End(span, &err)

	deleted, err := s.store.Accesses().DeleteTest(ctx, testID)
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("access_id", deleted.AccessID).
		Str("institution_id", deleted.InstitutionID).
		Str("actor", actor).
		Msg("Доступ к тестам учреждения удалён")
	return nil
}

// ListMine возвращает доступы пользователя. Статус истёкших по времени
// доступов отдаётся как expired ещё до фоновой проверки.
func (s *accessService) ListMine(ctx context.Context, userID string) (accesses []*domain.Access, err error) {
	ctx, span := tracing.Start(ctx, "access.ListMine")
	defer tracing.End(span, &err)

	accesses, err = s.store.Accesses().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, a := range accesses {
		if status := a.EffectiveStatus(now); status != a.Status {
			a.Status = status
			a.IsActive = false
		}
	}
	return accesses, nil
}

func grantReplay(ref *domain.OrderRef, err error) (*GrantResult, error) {
	if err != nil {
		return nil, err
	}
	return &GrantResult{Order: *ref}, nil
}
