package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/tracing"
	"example.com/learning-commerce/services/commerce/internal/client"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// WebhookService сверяет уведомления платёжного шлюза с заказами.
type WebhookService interface {
	// HandleXenditInvoice проверяет токен, журналирует и применяет вебхук счёта.
	// Повторная доставка возвращает WebhookDuplicate без изменений.
	HandleXenditInvoice(ctx context.Context, callbackToken string, body []byte) (domain.WebhookOutcome, error)
}

type webhookService struct {
	*core
	callbackToken string
}

// NewWebhookService создаёт обработчик вебхуков. Пустой callbackToken
// отклоняет все вебхуки.
func NewWebhookService(d Deps, callbackToken string) WebhookService {
	return &webhookService{core: newCore(d), callbackToken: callbackToken}
}

// reconcileResult — изменения, которые нужно опубликовать после фиксации.
type reconcileResult struct {
	outcome    domain.WebhookOutcome
	order      *domain.Order
	access     *domain.Access
	superseded []*domain.Access
	expired    bool
}

// HandleXenditInvoice обрабатывает вебхук счёта Xendit.
//
// Токен проверяется до любых изменений. В одной транзакции:
//  1. Запись в журнал; повтор (provider, event id, status) завершается как duplicate
//  2. PAID/SETTLED: транзакция -> success, заказ -> paid, выдача доступа
//  3. EXPIRED: pending заказ и транзакция -> expired; оплаченный заказ не трогается
//  4. PAID по истёкшему или отменённому заказу: запись в журнале с outcome
//     rejected и ErrOrderNotPending после фиксации
//  5. Неизвестный статус или external_id: запись в журнале, без изменений
func (s *webhookService) HandleXenditInvoice(ctx context.Context, callbackToken string, body []byte) (outcome domain.WebhookOutcome, err error) {
	ctx, span := tracing.Start(ctx, "webhook.HandleXenditInvoice")
	defer tracing.End(span, &err)

	log := logger.Ctx(ctx)

	if s.callbackToken == "" || subtle.ConstantTimeCompare([]byte(callbackToken), []byte(s.callbackToken)) != 1 {
		metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
		log.Warn().Msg("Вебхук отклонён: неверный токен")
		return "", domain.ErrInvalidCallbackToken
	}

	n, err := client.ParseInvoiceCallback(body)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
		return "", err
	}
	span.SetAttributes(
		attribute.String("payment.external_id", n.ExternalID),
		attribute.String("payment.status", string(n.Status)),
	)

	now := s.now()
	var res reconcileResult
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		eventID, txErr := tx.Webhooks().Record(ctx, n)
		if errors.Is(txErr, domain.ErrDuplicateWebhook) {
			res = reconcileResult{outcome: domain.WebhookDuplicate}
			return nil
		}
		if txErr != nil {
			return txErr
		}

		switch n.Status {
		case domain.PaymentStatusPaid:
			res, txErr = s.applyPaid(ctx, tx, n, now)
		case domain.PaymentStatusExpired:
			res, txErr = s.applyExpired(ctx, tx, n, now)
		default:
			res = reconcileResult{outcome: domain.WebhookIgnored}
		}
		if txErr != nil {
			return txErr
		}

		return tx.Webhooks().MarkProcessed(ctx, eventID, res.outcome, now)
	})
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(string(n.Status), "error").Inc()
		return "", err
	}

	metrics.WebhooksReceived.WithLabelValues(string(n.Status), string(res.outcome)).Inc()
	if res.outcome == domain.WebhookRejected {
		return res.outcome, domain.ErrOrderNotPending
	}
	log.Info().
		Str("external_id", n.ExternalID).
		Str("status", string(n.Status)).
		Str("outcome", string(res.outcome)).
		Msg("Вебхук обработан")

	s.afterReconcile(ctx, res)
	return res.outcome, nil
}

// applyPaid подтверждает оплату. Повтор по уже оплаченному заказу ничего не меняет.
// PAID по истёкшему или отменённому заказу получает outcome rejected без
// изменений заказа: деньги требуют ручного разбора.
func (s *webhookService) applyPaid(ctx context.Context, tx repository.Store, n *domain.PaymentNotification, now time.Time) (reconcileResult, error) {
	ignored := reconcileResult{outcome: domain.WebhookIgnored}

	txn, err := tx.Orders().GetTransactionForUpdate(ctx, n.ExternalID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		logger.Ctx(ctx).Warn().Str("external_id", n.ExternalID).Msg("Вебхук для неизвестной транзакции")
		return ignored, nil
	}
	if err != nil {
		return reconcileResult{}, err
	}

	order, err := tx.Orders().GetByIDForUpdate(ctx, txn.OrderID)
	if err != nil {
		return reconcileResult{}, err
	}

	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusReplaced:
		return ignored, nil
	case domain.OrderStatusPending:
	default:
		logger.Ctx(ctx).Error().
			Str("order_id", order.ID).
			Str("status", string(order.Status)).
			Msg("Оплата пришла по заказу, который больше не ожидает оплаты")
		return reconcileResult{outcome: domain.WebhookRejected}, nil
	}

	if n.InvoiceAmount != 0 && n.InvoiceAmount != txn.Amount {
		logger.Ctx(ctx).Warn().
			Str("transaction_id", txn.ID).
			Int64("invoice_amount", n.InvoiceAmount).
			Int64("expected_amount", txn.Amount).
			Msg("Сумма счёта в вебхуке не совпадает с транзакцией")
	}

	paidAt := now
	if n.PaidAt != nil {
		paidAt = n.PaidAt.UTC()
	}

	if txn.Status == domain.TransactionStatusPending {
		if err := tx.Orders().UpdateTransactionStatus(ctx, txn.ID, repository.TransactionStatusUpdate{
			From:    domain.TransactionStatusPending,
			To:      domain.TransactionStatusSuccess,
			PaidAt:  &paidAt,
			Method:  n.Method,
			Channel: n.Channel,
			At:      now,
		}); err != nil {
			return reconcileResult{}, err
		}
	}

	paidAmount := n.PaidAmount
	if paidAmount == 0 {
		paidAmount = txn.Amount
	}
	if err := tx.Orders().UpdateStatus(ctx, order.ID, repository.OrderStatusUpdate{
		From:       domain.OrderStatusPending,
		To:         domain.OrderStatusPaid,
		PaidAmount: &paidAmount,
		PaidAt:     &paidAt,
		UpdatedBy:  systemActor,
		At:         now,
	}); err != nil {
		return reconcileResult{}, err
	}
	order.Status = domain.OrderStatusPaid
	order.PaidAmount = paidAmount
	order.PaidAt = &paidAt

	res := reconcileResult{outcome: domain.WebhookApplied, order: order}

	item := order.Item()
	if item == nil {
		return res, nil
	}
	caps, _ := domain.CapabilitiesOf(item.ProductType)
	if !caps.GrantsEntitlement {
		return res, nil
	}

	user, err := tx.Users().GetByID(ctx, order.UserID)
	if err != nil {
		return reconcileResult{}, err
	}

	res.superseded, err = s.settleActiveAccesses(ctx, tx, order.UserID, item.ProductType, true, systemActor, now)
	if err != nil {
		return reconcileResult{}, err
	}

	// Продукт берётся из снимка заказа: каталог мог измениться после покупки
	product := &domain.Product{
		ID:             item.ProductID,
		Name:           item.ProductName,
		Type:           item.ProductType,
		Price:          item.Price,
		DurationMonths: item.DurationMonths,
	}
	res.access, err = s.grantTx(ctx, tx, order, product, user, now, nil, systemActor, now)
	if err != nil {
		return reconcileResult{}, err
	}
	return res, nil
}

// applyExpired закрывает pending заказ. Оплаченный заказ не понижается.
func (s *webhookService) applyExpired(ctx context.Context, tx repository.Store, n *domain.PaymentNotification, now time.Time) (reconcileResult, error) {
	ignored := reconcileResult{outcome: domain.WebhookIgnored}

	txn, err := tx.Orders().GetTransactionForUpdate(ctx, n.ExternalID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		logger.Ctx(ctx).Warn().Str("external_id", n.ExternalID).Msg("Вебхук для неизвестной транзакции")
		return ignored, nil
	}
	if err != nil {
		return reconcileResult{}, err
	}

	order, err := tx.Orders().GetByIDForUpdate(ctx, txn.OrderID)
	if err != nil {
		return reconcileResult{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return ignored, nil
	}

	if err := expireOrderTx(ctx, tx, order, now); err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{outcome: domain.WebhookApplied, order: order, expired: true}, nil
}

func (s *webhookService) afterReconcile(ctx context.Context, res reconcileResult) {
	if res.outcome != domain.WebhookApplied || res.order == nil {
		return
	}

	if res.expired {
		s.afterExpire(ctx, res.order, "webhook")
		return
	}

	s.cache.invalidate(ctx, res.order.ID)
	logger.Ctx(ctx).Info().
		Str("order_id", res.order.ID).
		Int64("paid_amount", res.order.PaidAmount).
		Msg("Заказ оплачен")
	s.publish(ctx, orderEvent(events.OrderPaid, res.order))
	s.afterGrant(ctx, res.order, res.access, res.superseded)
}
