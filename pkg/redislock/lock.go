// Package redislock — распределённая блокировка на Redis (SET NX + Lua unlock).
// Несколько реплик commerce работают без общей памяти: блокировка гарантирует,
// что пакет истёкших заказов обрабатывает одна реплика, а счёт в Xendit
// для заказа создаёт один запрос.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld — блокировка уже снята или перехвачена после истечения TTL.
var ErrNotHeld = errors.New("блокировка не удерживается")

// unlockScript удаляет ключ только если значение совпадает с токеном владельца.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker выдаёт и снимает блокировки.
type Locker struct {
	client *redis.Client
	prefix string
}

// New создаёт Locker. prefix добавляется ко всем ключам (например "lock:").
func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock пытается захватить блокировку без ожидания.
// Возвращает токен владельца и true при успехе.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("ошибка захвата блокировки %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock снимает блокировку, если она всё ещё принадлежит token.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.prefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("ошибка снятия блокировки %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
