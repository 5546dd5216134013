package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// intake — параметры создания заказа, общие для всех сценариев.
type intake struct {
	flow         domain.OrderFlow
	key          string
	actor        string
	user         *domain.User
	product      *domain.Product
	discount     int64
	discountCode string

	// startedAt — начало доступа для сценариев, оплаченных при создании.
	// Нулевое значение означает момент создания.
	startedAt time.Time
	subGrants []domain.SubGrant
	replaces  *string
}

// intakeResult — то, что нужно опубликовать после фиксации.
type intakeResult struct {
	order      *domain.Order
	access     *domain.Access
	superseded []*domain.Access
}

// createOrderTx создаёт заказ, позицию и транзакцию оплаты в рамках tx.
// Оплаченные при создании заказы (ручное подтверждение или нулевая сумма)
// сразу выдают доступ.
func (c *core) createOrderTx(ctx context.Context, tx repository.Store, in intake, now time.Time) (*intakeResult, error) {
	caps := in.product.Capabilities()

	total, final, err := domain.ComputeAmounts(in.product.Price, in.discount)
	if err != nil {
		return nil, err
	}

	if caps.GrantsEntitlement {
		// Без срока доступ не выдать ни при создании, ни после оплаты
		if in.product.DurationMonths <= 0 {
			return nil, domain.ErrInvalidDuration
		}
		// Проверка до вставки: лишний номер счёта не расходуется
		if _, err := c.settleActiveAccesses(ctx, tx, in.user.ID, in.product.Type, false, in.actor, now); err != nil {
			return nil, err
		}
	}

	day := domain.DayKey(now, c.loc)
	seq, err := tx.Invoices().Next(ctx, day)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:               domain.NewOrderID(now, c.loc),
		UserID:           in.user.ID,
		IdempotencyKey:   in.key,
		InvoiceNumber:    domain.FormatInvoiceNumber(day, seq),
		Flow:             in.flow,
		TotalAmount:      total,
		DiscountAmount:   in.discount,
		FinalAmount:      final,
		DiscountCode:     in.discountCode,
		ReplacesAccessID: in.replaces,
		CreatedBy:        in.actor,
		UpdatedBy:        in.actor,
		CreatedAt:        now,
		UpdatedAt:        now,
		Items: []domain.OrderItem{{
			ProductID:      in.product.ID,
			ProductName:    in.product.Name,
			ProductType:    in.product.Type,
			Price:          in.product.Price,
			DurationMonths: in.product.DurationMonths,
			Quantity:       1,
		}},
	}
	if err := c.encryptCustomer(order, in.user); err != nil {
		return nil, err
	}

	txn := domain.Transaction{
		ID:        domain.NewTransactionID(now, c.loc),
		Amount:    final,
		CreatedAt: now,
		UpdatedAt: now,
	}

	settled := in.flow.SettlesOnCreation() || final == 0
	if settled {
		paidAt := now
		order.Status = domain.OrderStatusPaid
		order.PaidAmount = final
		order.PaidAt = &paidAt
		txn.Status = domain.TransactionStatusSuccess
		txn.PaidAt = &paidAt
		txn.Gateway = domain.GatewayManual
		if !in.flow.SettlesOnCreation() {
			txn.Gateway = domain.GatewayFree
		}
	} else {
		expiredAt := now.Add(c.window)
		order.Status = domain.OrderStatusPending
		order.ExpiredAt = &expiredAt
		txn.Status = domain.TransactionStatusPending
		txn.Gateway = domain.GatewayXendit
	}
	order.Transactions = []domain.Transaction{txn}

	if err := tx.Orders().Create(ctx, order); err != nil {
		return nil, err
	}

	res := &intakeResult{order: order}
	if settled && caps.GrantsEntitlement {
		startedAt := in.startedAt
		if startedAt.IsZero() {
			startedAt = now
		}
		res.access, err = c.grantTx(ctx, tx, order, in.product, in.user, startedAt, in.subGrants, in.actor, now)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

// settleActiveAccesses блокирует активные доступы пользователя данного типа.
// Доступы с истёкшим сроком переводятся в expired. Действующий доступ либо
// отклоняет операцию (ErrActiveAccessExists), либо при supersede отзывается
// с причиной "superseded by payment".
func (c *core) settleActiveAccesses(ctx context.Context, tx repository.Store, userID string, accessType domain.ProductType, supersede bool, actor string, now time.Time) ([]*domain.Access, error) {
	active, err := tx.Accesses().ListActiveForUpdate(ctx, userID, accessType)
	if err != nil {
		return nil, err
	}

	var superseded []*domain.Access
	for _, a := range active {
		if !a.IsCurrentlyActive(now) {
			if err := expireAccessTx(ctx, tx, a, now); err != nil {
				return nil, err
			}
			continue
		}
		if !supersede {
			return nil, domain.ErrActiveAccessExists
		}

		entry, err := a.Revoke(domain.ReasonSupersededByPayment, actor, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Accesses().UpdateStatus(ctx, a, domain.AccessStatusActive); err != nil {
			return nil, err
		}
		if err := tx.Accesses().AppendRevokeLog(ctx, entry); err != nil {
			return nil, err
		}
		superseded = append(superseded, a)
	}
	return superseded, nil
}

// grantTx создаёт доступ по оплаченному заказу. Срок считается от startedAt
// в часовом поясе пользователя.
func (c *core) grantTx(ctx context.Context, tx repository.Store, order *domain.Order, product *domain.Product, user *domain.User, startedAt time.Time, subGrants []domain.SubGrant, actor string, now time.Time) (*domain.Access, error) {
	if product.DurationMonths <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	userLoc := domain.ResolveLocation(user.Timezone, c.loc)
	orderID := order.ID
	access := &domain.Access{
		UserID:         user.ID,
		Type:           product.Type,
		ProductID:      product.ID,
		OrderID:        &orderID,
		Status:         domain.AccessStatusActive,
		IsActive:       true,
		StartedAt:      startedAt.UTC(),
		ExpiredAt:      domain.ComputeExpiry(startedAt, product.DurationMonths, userLoc),
		DurationMonths: product.DurationMonths,
		CreatedBy:      actor,
		UpdatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if product.Capabilities().RequiresSubGrants {
		for _, g := range dedupeSubGrants(subGrants) {
			access.Tests = append(access.Tests, domain.AccessTest{
				InstitutionID:   g.InstitutionID,
				InstitutionName: g.InstitutionName,
				CreatedBy:       actor,
				UpdatedBy:       actor,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}

	if err := tx.Accesses().Create(ctx, access); err != nil {
		return nil, err
	}
	return access, nil
}

// expireAccessTx переводит доступ с истёкшим сроком в expired.
func expireAccessTx(ctx context.Context, tx repository.Store, a *domain.Access, now time.Time) error {
	if err := domain.CheckAccessTransition(a.Status, domain.AccessStatusExpired); err != nil {
		return err
	}
	a.Status = domain.AccessStatusExpired
	a.IsActive = false
	a.UpdateReason = domain.ReasonExpired
	a.UpdatedBy = systemActor
	a.UpdatedAt = now
	return tx.Accesses().UpdateStatus(ctx, a, domain.AccessStatusActive)
}

// expireOrderTx переводит заблокированный pending заказ и его pending транзакции в expired.
func expireOrderTx(ctx context.Context, tx repository.Store, order *domain.Order, now time.Time) error {
	if err := tx.Orders().UpdateStatus(ctx, order.ID, repository.OrderStatusUpdate{
		From:      domain.OrderStatusPending,
		To:        domain.OrderStatusExpired,
		UpdatedBy: systemActor,
		At:        now,
	}); err != nil {
		return err
	}

	for i := range order.Transactions {
		t := &order.Transactions[i]
		if t.Status != domain.TransactionStatusPending {
			continue
		}
		if err := tx.Orders().UpdateTransactionStatus(ctx, t.ID, repository.TransactionStatusUpdate{
			From: domain.TransactionStatusPending,
			To:   domain.TransactionStatusExpired,
			At:   now,
		}); err != nil {
			return err
		}
		t.Status = domain.TransactionStatusExpired
	}

	order.Status = domain.OrderStatusExpired
	order.UpdatedBy = systemActor
	order.UpdatedAt = now
	return nil
}

// encryptCustomer сохраняет снимок контактов покупателя в зашифрованном виде.
func (c *core) encryptCustomer(order *domain.Order, user *domain.User) error {
	fields := []struct {
		dst   *string
		plain string
	}{
		{&order.CustomerNameEnc, user.Name},
		{&order.CustomerEmailEnc, user.Email},
		{&order.CustomerPhoneEnc, user.Phone},
	}
	for _, f := range fields {
		if f.plain == "" {
			continue
		}
		enc, err := c.cipher.Encrypt(f.plain)
		if err != nil {
			return fmt.Errorf("ошибка шифрования данных покупателя: %w", err)
		}
		*f.dst = enc
	}
	return nil
}

// dedupeSubGrants оставляет последнее имя для каждого учреждения, сохраняя порядок.
func dedupeSubGrants(grants []domain.SubGrant) []domain.SubGrant {
	index := make(map[string]int, len(grants))
	out := make([]domain.SubGrant, 0, len(grants))
	for _, g := range grants {
		if i, ok := index[g.InstitutionID]; ok {
			out[i] = g
			continue
		}
		index[g.InstitutionID] = len(out)
		out = append(out, g)
	}
	return out
}

func validateSubGrants(grants []domain.SubGrant) error {
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// afterIntake выполняет побочные эффекты после фиксации заказа.
func (c *core) afterIntake(ctx context.Context, res *intakeResult) {
	order := res.order

	c.idem.remember(ctx, order.IdempotencyKey, order.ID)
	metrics.OrdersCreated.WithLabelValues(string(order.Flow)).Inc()

	log := logger.Ctx(ctx)
	log.Info().
		Str("order_id", order.ID).
		Str("invoice_number", order.InvoiceNumber).
		Str("flow", string(order.Flow)).
		Str("status", string(order.Status)).
		Int64("final_amount", order.FinalAmount).
		Msg("Заказ создан")

	if order.Status == domain.OrderStatusPending {
		c.publish(ctx, orderEvent(events.OrderCreated, order))
		return
	}

	if order.Flow == domain.FlowCheckout {
		c.publish(ctx, orderEvent(events.OrderPaid, order))
	}
	c.afterGrant(ctx, order, res.access, res.superseded)
}

// afterGrant публикует выдачу доступа и отзывы вытесненных доступов.
func (c *core) afterGrant(ctx context.Context, order *domain.Order, access *domain.Access, superseded []*domain.Access) {
	for _, a := range superseded {
		metrics.AccessTransitions.WithLabelValues("superseded").Inc()
		logger.Ctx(ctx).Info().
			Str("access_id", a.ID).
			Str("order_id", order.ID).
			Msg("Доступ вытеснен оплатой нового заказа")
		c.publish(ctx, accessEvent(events.AccessRevoked, a, order))
	}

	if access == nil {
		return
	}
	metrics.AccessTransitions.WithLabelValues("granted").Inc()
	logger.Ctx(ctx).Info().
		Str("access_id", access.ID).
		Str("order_id", order.ID).
		Str("type", string(access.Type)).
		Time("expired_at", access.ExpiredAt).
		Msg("Доступ выдан")

	if order.Flow != domain.FlowPlanChange {
		c.publish(ctx, accessEvent(events.AccessGranted, access, order))
	}
}

// orderEvent собирает событие заказа. Контакты остаются зашифрованными.
func orderEvent(t events.Type, o *domain.Order) events.Event {
	data := map[string]string{
		"flow":   string(o.Flow),
		"status": string(o.Status),
	}
	if item := o.Item(); item != nil {
		data["product_name"] = item.ProductName
	}
	if o.ExpiredAt != nil {
		data["expired_at"] = o.ExpiredAt.UTC().Format(time.RFC3339)
	}

	return events.Event{
		Type:             t,
		UserID:           o.UserID,
		OrderID:          o.ID,
		InvoiceNumber:    o.InvoiceNumber,
		Amount:           o.FinalAmount,
		RecipientEnc:     o.CustomerEmailEnc,
		RecipientNameEnc: o.CustomerNameEnc,
		Data:             data,
	}
}

// accessEvent собирает событие доступа. Получатель берётся из заказа доступа.
func accessEvent(t events.Type, a *domain.Access, o *domain.Order) events.Event {
	e := events.Event{
		Type:     t,
		UserID:   a.UserID,
		AccessID: a.ID,
		Data: map[string]string{
			"access_type":     string(a.Type),
			"started_at":      a.StartedAt.UTC().Format(time.RFC3339),
			"expired_at":      a.ExpiredAt.UTC().Format(time.RFC3339),
			"duration_months": strconv.Itoa(a.DurationMonths),
		},
	}
	if a.UpdateReason != "" {
		e.Data["reason"] = a.UpdateReason
	}
	if o != nil {
		e.OrderID = o.ID
		e.InvoiceNumber = o.InvoiceNumber
		e.RecipientEnc = o.CustomerEmailEnc
		e.RecipientNameEnc = o.CustomerNameEnc
		if item := o.Item(); item != nil {
			e.Data["product_name"] = item.ProductName
		}
	}
	return e
}
