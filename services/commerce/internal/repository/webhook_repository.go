package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/learning-commerce/services/commerce/internal/domain"
)

// WebhookEventRepository — журнал входящих вебхуков платёжного шлюза.
type WebhookEventRepository interface {
	// Record вставляет запись журнала. Повторная доставка того же
	// (provider, provider_event_id, status) возвращает domain.ErrDuplicateWebhook.
	Record(ctx context.Context, n *domain.PaymentNotification) (string, error)

	// MarkProcessed фиксирует результат обработки.
	MarkProcessed(ctx context.Context, id string, outcome domain.WebhookOutcome, at time.Time) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository создаёт репозиторий журнала вебхуков.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, n *domain.PaymentNotification) (string, error) {
	model := &WebhookEventModel{
		ID:              uuid.NewString(),
		Provider:        n.Provider,
		ProviderEventID: n.ProviderEventID,
		Status:          string(n.Status),
		ExternalID:      n.ExternalID,
		Payload:         string(n.Payload),
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return "", domain.ErrDuplicateWebhook
		}
		return "", err
	}
	return model.ID, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id string, outcome domain.WebhookOutcome, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome":      string(outcome),
			"processed_at": at,
		}).Error
}
