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

// AccessRepository определяет интерфейс для работы с доступами.
type AccessRepository interface {
	// Create создаёт доступ вместе с доступами к тестам учреждений.
	Create(ctx context.Context, access *domain.Access) error

	// GetByID возвращает доступ с доступами к тестам.
	GetByID(ctx context.Context, accessID string) (*domain.Access, error)

	// GetByIDForUpdate блокирует строку доступа до конца транзакции.
	GetByIDForUpdate(ctx context.Context, accessID string) (*domain.Access, error)

	// ListActiveForUpdate блокирует доступы пользователя данного типа в статусе active.
	ListActiveForUpdate(ctx context.Context, userID string, accessType domain.ProductType) ([]*domain.Access, error)

	// ListByUser возвращает доступы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string) ([]*domain.Access, error)

	// UpdateStatus сохраняет статус, is_active и причину доступа,
	// только если текущий статус равен from.
	UpdateStatus(ctx context.Context, access *domain.Access, from domain.AccessStatus) error

	// AppendRevokeLog добавляет запись в журнал отзывов.
	AppendRevokeLog(ctx context.Context, entry *domain.AccessRevokeLog) error

	// ListRevokeLogs возвращает журнал отзывов доступа.
	ListRevokeLogs(ctx context.Context, accessID string) ([]domain.AccessRevokeLog, error)

	// UpsertTests создаёт или обновляет доступы к тестам по (access_id, institution_id).
	// Существующие строки, которых нет в grants, не трогаются.
	UpsertTests(ctx context.Context, accessID string, grants []domain.SubGrant, actor string, now time.Time) ([]domain.AccessTest, error)

	// DeleteTest удаляет доступ к тестам учреждения.
	DeleteTest(ctx context.Context, testID string) (*domain.AccessTest, error)

	// ListExpiredActive возвращает ID активных доступов с истёкшим сроком.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// accessRepository — GORM реализация AccessRepository.
type accessRepository struct {
	db *gorm.DB
}

// NewAccessRepository создаёт репозиторий доступов.
func NewAccessRepository(db *gorm.DB) AccessRepository {
	return &accessRepository{db: db}
}

// Create вставляет доступ. Доступы к тестам GORM создаёт через ассоциацию.
func (r *accessRepository) Create(ctx context.Context, access *domain.Access) error {
	if access.ID == "" {
		access.ID = uuid.NewString()
	}
	for i := range access.Tests {
		if access.Tests[i].ID == "" {
			access.Tests[i].ID = uuid.NewString()
		}
		access.Tests[i].AccessID = access.ID
	}

	model := accessModelFromDomain(access)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("создание доступа: %w", err)
	}

	access.CreatedAt = model.CreatedAt
	access.UpdatedAt = model.UpdatedAt
	for i := range access.Tests {
		access.Tests[i].CreatedAt = model.Tests[i].CreatedAt
		access.Tests[i].UpdatedAt = model.Tests[i].UpdatedAt
	}
	return nil
}

func (r *accessRepository) withTests(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Tests", func(db *gorm.DB) *gorm.DB {
		return db.Order("institution_id ASC")
	})
}

// GetByID возвращает доступ по ID.
func (r *accessRepository) GetByID(ctx context.Context, id string) (*domain.Access, error) {
	var model AccessModel

	if err := r.withTests(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccessNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// GetByIDForUpdate читает доступ с SELECT ... FOR UPDATE.
func (r *accessRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Access, error) {
	var model AccessModel

	if err := r.withTests(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccessNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// ListActiveForUpdate блокирует активные доступы (user_id, type).
// На MySQL блокировка по индексу idx_accesses_user_type_status
// сериализует параллельные выдачи одного типа одному пользователю.
func (r *accessRepository) ListActiveForUpdate(ctx context.Context, userID string, accessType domain.ProductType) ([]*domain.Access, error) {
	var models []AccessModel

	if err := r.withTests(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND type = ? AND status = ?", userID, string(accessType), string(domain.AccessStatusActive)).
		Order("started_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Access, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// ListByUser возвращает все доступы пользователя.
func (r *accessRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Access, error) {
	var models []AccessModel

	if err := r.withTests(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Access, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// UpdateStatus выполняет UPDATE ... WHERE id = ? AND status = ?.
func (r *accessRepository) UpdateStatus(ctx context.Context, a *domain.Access, from domain.AccessStatus) error {
	if err := domain.CheckAccessTransition(from, a.Status); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":     string(a.Status),
		"is_active":  a.Status == domain.AccessStatusActive,
		"updated_by": a.UpdatedBy,
		"updated_at": a.UpdatedAt.UTC(),
	}
	if a.UpdateReason != "" {
		updates["update_reason"] = a.UpdateReason
	}

	result := r.db.WithContext(ctx).
		Model(&AccessModel{}).
		Where("id = ? AND status = ?", a.ID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&AccessModel{}).Where("id = ?", a.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrAccessNotFound
		}
		return fmt.Errorf("доступ %s уже не в статусе %s: %w", a.ID, from, domain.ErrAccessNotActive)
	}
	return nil
}

// AppendRevokeLog добавляет запись журнала отзывов.
func (r *accessRepository) AppendRevokeLog(ctx context.Context, entry *domain.AccessRevokeLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	model := &AccessRevokeLogModel{
		ID:        entry.ID,
		AccessID:  entry.AccessID,
		Reason:    entry.Reason,
		RevokedBy: entry.RevokedBy,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("запись журнала отзыва: %w", err)
	}
	return nil
}

// ListRevokeLogs возвращает журнал отзывов по времени.
func (r *accessRepository) ListRevokeLogs(ctx context.Context, accessID string) ([]domain.AccessRevokeLog, error) {
	var models []AccessRevokeLogModel

	if err := r.db.WithContext(ctx).
		Where("access_id = ?", accessID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.AccessRevokeLog, len(models))
	for i, m := range models {
		out[i] = domain.AccessRevokeLog{
			ID:        m.ID,
			AccessID:  m.AccessID,
			Reason:    m.Reason,
			RevokedBy: m.RevokedBy,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

// UpsertTests выполняет INSERT ... ON DUPLICATE KEY UPDATE по уникальному
// индексу (access_id, institution_id) и возвращает затронутые строки.
func (r *accessRepository) UpsertTests(ctx context.Context, accessID string, grants []domain.SubGrant, actor string, now time.Time) ([]domain.AccessTest, error) {
	if len(grants) == 0 {
		return nil, nil
	}

	now = now.UTC()
	models := make([]AccessTestModel, len(grants))
	institutions := make([]string, len(grants))
	for i, g := range grants {
		models[i] = AccessTestModel{
			ID:              uuid.NewString(),
			AccessID:        accessID,
			InstitutionID:   g.InstitutionID,
			InstitutionName: g.InstitutionName,
			CreatedBy:       actor,
			UpdatedBy:       actor,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		institutions[i] = g.InstitutionID
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "access_id"}, {Name: "institution_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"institution_name", "updated_by", "updated_at"}),
		}).
		Create(&models).Error
	if err != nil {
		return nil, fmt.Errorf("upsert доступов к тестам: %w", err)
	}

	var stored []AccessTestModel
	if err := r.db.WithContext(ctx).
		Where("access_id = ? AND institution_id IN ?", accessID, institutions).
		Order("institution_id ASC").
		Find(&stored).Error; err != nil {
		return nil, err
	}

	out := make([]domain.AccessTest, len(stored))
	for i := range stored {
		out[i] = stored[i].toDomain()
	}
	return out, nil
}

// DeleteTest удаляет строку access_tests и возвращает её.
func (r *accessRepository) DeleteTest(ctx context.Context, testID string) (*domain.AccessTest, error) {
	var model AccessTestModel

	if err := r.db.WithContext(ctx).Where("id = ?", testID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccessTestNotFound
		}
		return nil, err
	}

	result := r.db.WithContext(ctx).Where("id = ?", testID).Delete(&AccessTestModel{})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrAccessTestNotFound
	}

	t := model.toDomain()
	return &t, nil
}

// ListExpiredActive возвращает ID доступов для фоновой проверки.
func (r *accessRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).
		Model(&AccessModel{}).
		Where("status = ? AND expired_at < ?", string(domain.AccessStatusActive), now.UTC()).
		Order("expired_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
