package service

import (
	"context"
	"errors"
	"fmt"
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

// CreateOrderRequest — самостоятельная покупка.
type CreateOrderRequest struct {
	UserID         string
	IdempotencyKey string
	ProductID      string
	ProductType    string
	DiscountAmount int64
	DiscountCode   string
}

// OrderDetail — заказ с расшифрованными контактами покупателя.
type OrderDetail struct {
	Order         *domain.Order
	Status        domain.OrderStatus
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// PaymentLink — ссылка на оплату заказа.
type PaymentLink struct {
	OrderID       string
	TransactionID string
	InvoiceURL    string
	ExpiredAt     time.Time
}

// PaymentConfig — параметры создания счёта в шлюзе.
type PaymentConfig struct {
	SuccessRedirectURL string
	FailureRedirectURL string

	// LockTTL — время жизни блокировки создания счёта.
	LockTTL time.Duration
}

// OrderService определяет операции заказов покупателя.
type OrderService interface {
	// Create создаёт заказ или возвращает существующий по ключу идемпотентности.
	Create(ctx context.Context, req CreateOrderRequest) (*domain.OrderRef, error)

	// Get возвращает заказ владельцу.
	Get(ctx context.Context, orderID, userID string) (*OrderDetail, error)

	// Status возвращает текущий статус заказа владельцу.
	Status(ctx context.Context, orderID, userID string) (domain.OrderStatus, error)

	// Pay возвращает ссылку на оплату, создавая счёт в шлюзе при необходимости.
	Pay(ctx context.Context, orderID, userID string) (*PaymentLink, error)
}

type orderService struct {
	*core
	gateway PaymentGateway
	locker  Locker
	payment PaymentConfig
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(d Deps, gateway PaymentGateway, locker Locker, pc PaymentConfig) OrderService {
	if pc.LockTTL <= 0 {
		pc.LockTTL = 30 * time.Second
	}
	return &orderService{
		core:    newCore(d),
		gateway: gateway,
		locker:  locker,
		payment: pc,
	}
}

// Create реализует самостоятельную покупку.
//
// Алгоритм:
//  1. Повтор по ключу идемпотентности возвращает существующий заказ
//  2. Продукт должен быть активным и покупаемым через шлюз
//  3. В одной транзакции: номер счёта, заказ, позиция, транзакция оплаты
//  4. После фиксации: уведомление и кэш идемпотентности
func (s *orderService) Create(ctx context.Context, req CreateOrderRequest) (ref *domain.OrderRef, err error) {
	ctx, span := tracing.Start(ctx, "order.Create",
		attribute.String("order.flow", string(domain.FlowCheckout)),
		attribute.String("product.id", req.ProductID),
	)
	defer tracing.End(span, &err)

	if err := validateIdempotencyKey(req.IdempotencyKey); err != nil {
		return nil, err
	}
	productType, err := domain.ParseProductType(req.ProductType)
	if err != nil {
		return nil, err
	}

	matches := ownedBy(req.UserID, domain.FlowCheckout)
	if ref, err := s.replay(ctx, req.IdempotencyKey, matches); err != nil || ref != nil {
		return ref, err
	}

	product, err := s.store.Catalog().GetActiveProduct(ctx, req.ProductID, productType)
	if err != nil {
		return nil, err
	}
	if !product.Capabilities().GatewayPayable {
		return nil, domain.ErrProductNotEligible
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
			flow:         domain.FlowCheckout,
			key:          req.IdempotencyKey,
			actor:        req.UserID,
			user:         user,
			product:      product,
			discount:     req.DiscountAmount,
			discountCode: req.DiscountCode,
		}, now)
		return txErr
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		return s.replayAfterRace(ctx, req.IdempotencyKey, matches)
	}
	if err != nil {
		return nil, err
	}

	s.afterIntake(ctx, res)
	out := res.order.Ref()
	return &out, nil
}

// Get возвращает заказ владельцу. Чужой заказ: ErrOrderForbidden.
func (s *orderService) Get(ctx context.Context, orderID, userID string) (detail *OrderDetail, err error) {
	ctx, span := tracing.Start(ctx, "order.Get", attribute.String("order.id", orderID))
	defer tracing.End(span, &err)

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderForbidden
	}

	detail = &OrderDetail{Order: order, Status: order.EffectiveStatus(s.now())}
	fields := []struct {
		dst *string
		enc string
	}{
		{&detail.CustomerName, order.CustomerNameEnc},
		{&detail.CustomerEmail, order.CustomerEmailEnc},
		{&detail.CustomerPhone, order.CustomerPhoneEnc},
	}
	for _, f := range fields {
		if f.enc == "" {
			continue
		}
		plain, err := s.cipher.Decrypt(f.enc)
		if err != nil {
			return nil, fmt.Errorf("ошибка расшифровки данных покупателя: %w", err)
		}
		*f.dst = plain
	}
	return detail, nil
}

// Status возвращает статус с учётом истёкшего окна оплаты.
func (s *orderService) Status(ctx context.Context, orderID, userID string) (status domain.OrderStatus, err error) {
	ctx, span := tracing.Start(ctx, "order.Status", attribute.String("order.id", orderID))
	defer tracing.End(span, &err)

	if owner, cached, ok := s.cache.get(ctx, orderID); ok {
		if owner != userID {
			return "", domain.ErrOrderForbidden
		}
		return cached, nil
	}

	gen := s.cache.generation(ctx, orderID)
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.UserID != userID {
		return "", domain.ErrOrderForbidden
	}

	status = order.EffectiveStatus(s.now())
	s.cache.set(ctx, order.ID, order.UserID, status, gen)
	return status, nil
}

// Pay возвращает ссылку на оплату pending заказа.
//
// Истёкшее окно оплаты переводит заказ в expired и возвращает ErrOrderExpired.
// Создание счёта в шлюзе защищено распределённой блокировкой: параллельный
// запрос получает ErrPaymentInProgress и повторяет позже.
func (s *orderService) Pay(ctx context.Context, orderID, userID string) (link *PaymentLink, err error) {
	ctx, span := tracing.Start(ctx, "order.Pay", attribute.String("order.id", orderID))
	defer tracing.End(span, &err)

	log := logger.Ctx(ctx)

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderForbidden
	}

	now := s.now()
	if order.Status == domain.OrderStatusPending && order.PaymentWindowClosed(now) {
		if err := s.expireOnPay(ctx, order.ID, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrOrderExpired
	}
	switch order.Status {
	case domain.OrderStatusPending:
	case domain.OrderStatusExpired:
		return nil, domain.ErrOrderExpired
	default:
		return nil, domain.ErrOrderNotPending
	}

	if link := paymentLinkOf(order); link != nil {
		return link, nil
	}

	lockKey := "order-payment:" + order.ID
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.payment.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки оплаты: %w", err)
	}
	if !ok {
		return nil, domain.ErrPaymentInProgress
	}
	defer func() {
		if unlockErr := s.locker.Unlock(logger.Detach(ctx), lockKey, token); unlockErr != nil {
			log.Warn().Err(unlockErr).Str("order_id", order.ID).Msg("Ошибка снятия блокировки оплаты")
		}
	}()

	// Перечитываем под блокировкой: счёт мог создать параллельный запрос
	order, err = s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, domain.ErrOrderNotPending
	}
	if link := paymentLinkOf(order); link != nil {
		return link, nil
	}

	txn := order.PendingTransaction()
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}

	email, err := s.decryptOptional(order.CustomerEmailEnc)
	if err != nil {
		return nil, err
	}

	description := order.InvoiceNumber
	if item := order.Item(); item != nil {
		description = order.InvoiceNumber + " " + item.ProductName
	}

	invoice, err := s.gateway.CreateInvoice(ctx, client.CreateInvoiceRequest{
		ExternalID:         txn.ID,
		Amount:             txn.Amount,
		PayerEmail:         email,
		Description:        description,
		InvoiceDuration:    order.ExpiredAt.Sub(now),
		SuccessRedirectURL: s.payment.SuccessRedirectURL,
		FailureRedirectURL: s.payment.FailureRedirectURL,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Orders().SetTransactionInvoice(ctx, txn.ID, invoice.ID, invoice.InvoiceURL); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.ID).
		Str("transaction_id", txn.ID).
		Str("gateway_invoice_id", invoice.ID).
		Msg("Счёт на оплату создан")

	return &PaymentLink{
		OrderID:       order.ID,
		TransactionID: txn.ID,
		InvoiceURL:    invoice.InvoiceURL,
		ExpiredAt:     *order.ExpiredAt,
	}, nil
}

// expireOnPay переводит заказ в expired при попытке оплаты после окна.
func (s *orderService) expireOnPay(ctx context.Context, orderID string, now time.Time) error {
	var expired *domain.Order
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return nil
		}
		if err := expireOrderTx(ctx, tx, order, now); err != nil {
			return err
		}
		expired = order
		return nil
	})
	if err != nil {
		return err
	}

	if expired != nil {
		s.afterExpire(ctx, expired, "payment")
	}
	return nil
}

func (s *orderService) decryptOptional(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	plain, err := s.cipher.Decrypt(enc)
	if err != nil {
		return "", fmt.Errorf("ошибка расшифровки данных покупателя: %w", err)
	}
	return plain, nil
}

// paymentLinkOf возвращает уже созданную ссылку pending транзакции.
func paymentLinkOf(order *domain.Order) *PaymentLink {
	txn := order.PendingTransaction()
	if txn == nil || txn.InvoiceURL == "" || order.ExpiredAt == nil {
		return nil
	}
	return &PaymentLink{
		OrderID:       order.ID,
		TransactionID: txn.ID,
		InvoiceURL:    txn.InvoiceURL,
		ExpiredAt:     *order.ExpiredAt,
	}
}

// afterExpire выполняет побочные эффекты истечения заказа.
func (c *core) afterExpire(ctx context.Context, order *domain.Order, source string) {
	c.cache.invalidate(ctx, order.ID)
	metrics.OrdersExpired.WithLabelValues(source).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("source", source).
		Msg("Заказ истёк")
	c.publish(ctx, orderEvent(events.OrderExpired, order))
}
