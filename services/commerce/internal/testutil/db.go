// Package testutil содержит общие утилиты и моки для тестов commerce.
// ВАЖНО: пакет импортирует repository, поэтому тесты repository,
// использующие testutil, пишутся во внешнем пакете repository_test.
package testutil

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"example.com/learning-commerce/pkg/db"
	"example.com/learning-commerce/pkg/outbox"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// NewSQLiteDB создаёт in-memory SQLite с полной схемой commerce и outbox.
// Одно соединение: все запросы транзакции идут через него, как в MySQL сессии.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), db.GormConfig(false))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(gdb))
	require.NoError(t, gdb.AutoMigrate(&outbox.Model{}))
	return gdb
}

// Jakarta — бизнес-часовой пояс тестов (UTC+7, без перехода на летнее время).
func Jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	return loc
}

// SeedProduct добавляет продукт в каталог.
func SeedProduct(t *testing.T, gdb *gorm.DB, p domain.Product) domain.Product {
	t.Helper()
	if p.Name == "" {
		p.Name = "Продукт " + p.ID
	}
	require.NoError(t, gdb.Create(&repository.ProductModel{
		ID:             p.ID,
		Name:           p.Name,
		Type:           string(p.Type),
		Price:          p.Price,
		DurationMonths: p.DurationMonths,
		IsActive:       true,
	}).Error)
	p.IsActive = true
	return p
}

// DeactivateProduct снимает продукт с продажи.
func DeactivateProduct(t *testing.T, gdb *gorm.DB, productID string) {
	t.Helper()
	require.NoError(t, gdb.Model(&repository.ProductModel{}).
		Where("id = ?", productID).
		Update("is_active", false).Error)
}

// SeedUser добавляет пользователя.
func SeedUser(t *testing.T, gdb *gorm.DB, u domain.User) domain.User {
	t.Helper()
	if u.Name == "" {
		u.Name = "Пользователь " + u.ID
	}
	if u.Email == "" {
		u.Email = u.ID + "@example.com"
	}
	require.NoError(t, gdb.Create(&repository.UserModel{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		Timezone: u.Timezone,
	}).Error)
	return u
}

// CountRows возвращает число строк модели с условием.
func CountRows(t *testing.T, gdb *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := gdb.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
