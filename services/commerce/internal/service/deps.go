// Package service содержит бизнес-логику commerce: приём заказов, выдачу и отзыв
// доступов, смену тарифа, обработку вебхуков платёжного шлюза и фоновое истечение.
//
// Все многотабличные записи выполняются в одной транзакции repository.Store.
// Уведомления публикуются только после фиксации транзакции.
package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/services/commerce/internal/client"
	"example.com/learning-commerce/services/commerce/internal/repository"
)

// Cipher шифрует персональные данные. Реализуется *crypto.Cipher.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Notifier принимает события после фиксации транзакции. Реализуется *notify.Hook.
type Notifier interface {
	Publish(ctx context.Context, e events.Event)
}

// Locker — распределённая блокировка. Реализуется *redislock.Locker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// PaymentGateway создаёт счета в платёжном шлюзе. Реализуется *client.XenditClient.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, req client.CreateInvoiceRequest) (*client.Invoice, error)
}

// Deps — общие зависимости сервисов.
type Deps struct {
	Store    repository.Store
	Cipher   Cipher
	Notifier Notifier

	// Redis — кэш статусов заказов и быстрый путь идемпотентности.
	// nil отключает оба: корректность обеспечивает БД.
	Redis          *redis.Client
	StatusCacheTTL time.Duration

	// Location — бизнес-часовой пояс: сутки номеров счетов и ID.
	Location      *time.Location
	PaymentWindow time.Duration

	Now func() time.Time
}

// systemActor — автор изменений, сделанных вебхуком или фоновой проверкой.
const systemActor = "system"

// core — общая часть сервисов.
type core struct {
	store    repository.Store
	cipher   Cipher
	notifier Notifier
	idem     *idempotencyStore
	cache    *statusCache
	loc      *time.Location
	window   time.Duration
	now      func() time.Time
}

func newCore(d Deps) *core {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.PaymentWindow <= 0 {
		d.PaymentWindow = 24 * time.Hour
	}
	if d.StatusCacheTTL <= 0 {
		d.StatusCacheTTL = 5 * time.Second
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Notifier == nil {
		d.Notifier = discardNotifier{}
	}

	return &core{
		store:    d.Store,
		cipher:   d.Cipher,
		notifier: d.Notifier,
		idem:     newIdempotencyStore(d.Store, d.Redis),
		cache:    newStatusCache(d.Redis, d.StatusCacheTTL),
		loc:      d.Location,
		window:   d.PaymentWindow,
		now:      func() time.Time { return d.Now().UTC() },
	}
}

type discardNotifier struct{}

func (discardNotifier) Publish(context.Context, events.Event) {}

// publish отправляет события в post-commit очередь.
func (c *core) publish(ctx context.Context, evs ...events.Event) {
	for _, e := range evs {
		c.notifier.Publish(ctx, e)
	}
}
