package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound — запись outbox не найдена.
var ErrNotFound = errors.New("запись outbox не найдена")

// cleanupBatch — сколько обработанных записей удаляется за один проход.
const cleanupBatch = 1000

// Repository — хранилище outbox.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetUnprocessed(ctx context.Context, limit int) ([]*Record, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация Repository.
// aggregateType ограничивает выборку записями одного сервиса.
type repository struct {
	db            *gorm.DB
	aggregateType string
}

// NewRepository создаёт репозиторий outbox.
func NewRepository(db *gorm.DB, aggregateType string) Repository {
	return &repository{db: db, aggregateType: aggregateType}
}

// Create сохраняет запись. Пустой AggregateType заменяется типом репозитория.
func (r *repository) Create(ctx context.Context, record *Record) error {
	if record.AggregateType == "" {
		record.AggregateType = r.aggregateType
	}
	model, err := modelFromRecord(record)
	if err != nil {
		return fmt.Errorf("сериализация headers outbox: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("запись в outbox: %w", err)
	}
	record.ID = model.ID
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed возвращает неотправленные записи. Записи с большим
// retry_count уходят в конец очереди.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	var models []Model
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].toRecord()
	}
	return result, nil
}

// MarkProcessed помечает запись отправленной.
func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed увеличивает счётчик попыток и сохраняет текст ошибки.
func (r *repository) MarkFailed(ctx context.Context, id string, err error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет до cleanupBatch отправленных записей старше before.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&Model{}).
		Where("processed_at IS NOT NULL AND processed_at < ? AND aggregate_type = ?", before, r.aggregateType).
		Limit(cleanupBatch).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
