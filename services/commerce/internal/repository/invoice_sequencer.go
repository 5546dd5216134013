package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceSequencer выдаёт порядковые номера счетов в пределах бизнес-суток.
type InvoiceSequencer interface {
	// Next возвращает следующий номер для суток day (yyyyMMdd), начиная с 1.
	// Вызывается только внутри транзакции, вставляющей заказ: строка счётчика
	// остаётся заблокированной до её завершения.
	Next(ctx context.Context, day string) (int64, error)
}

type invoiceSequencer struct {
	db *gorm.DB
}

// NewInvoiceSequencer создаёт счётчик номеров поверх подключения или транзакции.
func NewInvoiceSequencer(db *gorm.DB) InvoiceSequencer {
	return &invoiceSequencer{db: db}
}

// Next: INSERT IGNORE строки суток, SELECT ... FOR UPDATE, инкремент.
// Параллельные транзакции одного дня ждут на блокировке строки.
func (s *invoiceSequencer) Next(ctx context.Context, day string) (int64, error) {
	db := s.db.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&InvoiceCounterModel{Day: day}).Error; err != nil {
		return 0, fmt.Errorf("счётчик счетов %s: %w", day, err)
	}

	var counter InvoiceCounterModel
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("day = ?", day).
		First(&counter).Error; err != nil {
		return 0, fmt.Errorf("блокировка счётчика счетов %s: %w", day, err)
	}

	next := counter.LastSeq + 1
	if err := db.Model(&InvoiceCounterModel{}).
		Where("day = ?", day).
		Update("last_seq", next).Error; err != nil {
		return 0, fmt.Errorf("инкремент счётчика счетов %s: %w", day, err)
	}

	return next, nil
}
