// Package repository содержит GORM репозитории commerce и единицу работы
// (Store), через которую сервисы выполняют многотабличные записи в одной транзакции.
package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Store объединяет репозитории commerce. Репозитории, полученные из Store
// внутри WithinTx, пишут в транзакцию этого вызова.
type Store interface {
	Orders() OrderRepository
	Accesses() AccessRepository
	Invoices() InvoiceSequencer
	Webhooks() WebhookEventRepository
	Catalog() CatalogRepository
	Users() UserRepository

	// WithinTx выполняет fn в одной транзакции БД. Ошибка fn откатывает все записи.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore создаёт Store поверх подключения GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Orders() OrderRepository          { return &orderRepository{db: s.db} }
func (s *gormStore) Accesses() AccessRepository       { return &accessRepository{db: s.db} }
func (s *gormStore) Invoices() InvoiceSequencer       { return &invoiceSequencer{db: s.db} }
func (s *gormStore) Webhooks() WebhookEventRepository { return &webhookEventRepository{db: s.db} }
func (s *gormStore) Catalog() CatalogRepository       { return &catalogRepository{db: s.db} }
func (s *gormStore) Users() UserRepository            { return &userRepository{db: s.db} }

func (s *gormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// AutoMigrate создаёт таблицы commerce. В production схемой управляют миграции.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// isDuplicateKeyError проверяет нарушение уникального индекса.
// MySQL: Error 1062, SQLite: UNIQUE constraint failed.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
