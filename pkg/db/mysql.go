// Package db предоставляет подключения к MySQL (GORM) и Redis.
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/learning-commerce/pkg/config"
)

// GormConfig возвращает общие настройки GORM.
// TranslateError включён: нарушения уникальности приходят как gorm.ErrDuplicatedKey,
// на этом построена идемпотентность заказов.
func GormConfig(debug bool) *gorm.Config {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ConnectMySQL создаёт подключение к MySQL через GORM, проверяет его
// через PingContext и настраивает пул соединений.
func ConnectMySQL(cfg config.MySQLConfig, debug bool) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), GormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MySQL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ошибка ping MySQL: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Close закрывает пул соединений GORM.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
