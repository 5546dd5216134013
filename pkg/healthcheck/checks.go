// Package healthcheck содержит проверки зависимостей для /readyz.
package healthcheck

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Check — проверка одной зависимости.
type Check func(ctx context.Context) error

// Database проверяет доступность БД через GORM.
func Database(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		return nil
	}
}

// Redis проверяет доступность Redis.
func Redis(rdb *redis.Client) Check {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// Kafka проверяет, что хотя бы один брокер принимает соединения.
func Kafka(brokers []string) Check {
	return func(ctx context.Context) error {
		var lastErr error
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		if lastErr == nil {
			lastErr = &net.AddrError{Err: "не указаны брокеры", Addr: ""}
		}
		return fmt.Errorf("kafka: %w", lastErr)
	}
}

// Composite объединяет проверки и возвращает первую ошибку.
func Composite(checks ...Check) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
