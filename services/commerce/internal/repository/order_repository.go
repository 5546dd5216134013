package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/learning-commerce/services/commerce/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами и транзакциями оплаты.
type OrderRepository interface {
	// Create создаёт заказ вместе с позициями и транзакциями.
	// Дубликат idempotency_key возвращает domain.ErrDuplicateOrder.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ с позициями и транзакциями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIDForUpdate блокирует строку заказа до конца транзакции.
	GetByIDForUpdate(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)

	// GetTransactionForUpdate блокирует транзакцию оплаты по её ID (external_id шлюза).
	GetTransactionForUpdate(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// UpdateStatus меняет статус заказа, только если текущий статус равен u.From.
	UpdateStatus(ctx context.Context, orderID string, u OrderStatusUpdate) error

	// UpdateTransactionStatus меняет статус транзакции, только если текущий статус равен u.From.
	UpdateTransactionStatus(ctx context.Context, transactionID string, u TransactionStatusUpdate) error

	// SetTransactionInvoice сохраняет счёт шлюза для транзакции.
	SetTransactionInvoice(ctx context.Context, transactionID, gatewayInvoiceID, invoiceURL string) error

	// ListExpiredPending возвращает ID заказов в pending с истёкшим сроком оплаты.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// OrderStatusUpdate описывает условный переход статуса заказа.
type OrderStatusUpdate struct {
	From       domain.OrderStatus
	To         domain.OrderStatus
	PaidAmount *int64
	PaidAt     *time.Time
	UpdatedBy  string
	At         time.Time
}

// TransactionStatusUpdate описывает условный переход статуса транзакции.
type TransactionStatusUpdate struct {
	From    domain.TransactionStatus
	To      domain.TransactionStatus
	PaidAt  *time.Time
	Method  string
	Channel string
	At      time.Time
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create вставляет заказ. Позиции и транзакции GORM создаёт через ассоциации.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
	}
	model := orderModelFromDomain(order)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	for i := range order.Transactions {
		order.Transactions[i].OrderID = order.ID
		order.Transactions[i].CreatedAt = model.Transactions[i].CreatedAt
		order.Transactions[i].UpdatedAt = model.Transactions[i].UpdatedAt
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	return nil
}

func (r *orderRepository) withAssociations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		})
}

// GetByID возвращает заказ с позициями и транзакциями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.withAssociations(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIDForUpdate читает заказ с SELECT ... FOR UPDATE.
func (r *orderRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.withAssociations(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var model OrderModel

	if err := r.withAssociations(ctx).
		Where("idempotency_key = ?", key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetTransactionForUpdate блокирует строку транзакции оплаты.
func (r *orderRepository) GetTransactionForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// UpdateStatus выполняет UPDATE ... WHERE id = ? AND status = ?.
// Если строка не изменилась, статус успел смениться: возвращается ErrInvalidTransition.
func (r *orderRepository) UpdateStatus(ctx context.Context, id string, u OrderStatusUpdate) error {
	if err := domain.CheckOrderTransition(u.From, u.To); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":     string(u.To),
		"updated_at": u.At.UTC(),
	}
	if u.PaidAmount != nil {
		updates["paid_amount"] = *u.PaidAmount
	}
	if u.PaidAt != nil {
		updates["paid_at"] = u.PaidAt.UTC()
	}
	if u.UpdatedBy != "" {
		updates["updated_by"] = u.UpdatedBy
	}

	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(u.From)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, &OrderModel{}, id, domain.ErrOrderNotFound,
			fmt.Errorf("заказ %s уже не в статусе %s: %w", id, u.From, domain.ErrInvalidTransition))
	}
	return nil
}

// UpdateTransactionStatus выполняет условный переход статуса транзакции.
func (r *orderRepository) UpdateTransactionStatus(ctx context.Context, id string, u TransactionStatusUpdate) error {
	if err := domain.CheckTransactionTransition(u.From, u.To); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":     string(u.To),
		"updated_at": u.At.UTC(),
	}
	if u.PaidAt != nil {
		updates["paid_at"] = u.PaidAt.UTC()
	}
	if u.Method != "" {
		updates["method"] = u.Method
	}
	if u.Channel != "" {
		updates["channel"] = u.Channel
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ? AND status = ?", id, string(u.From)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, &TransactionModel{}, id, domain.ErrTransactionNotFound,
			fmt.Errorf("транзакция %s уже не в статусе %s: %w", id, u.From, domain.ErrInvalidTransition))
	}
	return nil
}

// SetTransactionInvoice сохраняет id и ссылку счёта шлюза.
func (r *orderRepository) SetTransactionInvoice(ctx context.Context, id, invoiceID, invoiceURL string) error {
	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_invoice_id": invoiceID,
			"invoice_url":        invoiceURL,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// ListExpiredPending возвращает ID заказов для фоновой проверки, старые первыми.
func (r *orderRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("status = ? AND expired_at IS NOT NULL AND expired_at < ?", string(domain.OrderStatusPending), now.UTC()).
		Order("expired_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// missOrConflict различает отсутствующую строку и строку в другом статусе.
func (r *orderRepository) missOrConflict(ctx context.Context, model any, id string, notFound, conflict error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return conflict
}
