package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/learning-commerce/services/commerce/internal/domain"
)

// CatalogRepository читает каталог продуктов. Таблица принадлежит сервису каталога.
type CatalogRepository interface {
	// GetActiveProduct возвращает активный продукт по (id, type).
	GetActiveProduct(ctx context.Context, productID string, productType domain.ProductType) (*domain.Product, error)
}

// UserRepository читает профили пользователей.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт репозиторий каталога.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetActiveProduct(ctx context.Context, productID string, productType domain.ProductType) (*domain.Product, error) {
	var m ProductModel

	if err := r.db.WithContext(ctx).
		Where("id = ? AND type = ? AND is_active = ?", productID, string(productType), true).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}

	return &domain.Product{
		ID:             m.ID,
		Name:           m.Name,
		Type:           domain.ProductType(m.Type),
		Price:          m.Price,
		DurationMonths: m.DurationMonths,
		IsActive:       m.IsActive,
	}, nil
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	var m UserModel

	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return &domain.User{
		ID:       m.ID,
		Name:     m.Name,
		Email:    m.Email,
		Phone:    m.Phone,
		Timezone: m.Timezone,
	}, nil
}
