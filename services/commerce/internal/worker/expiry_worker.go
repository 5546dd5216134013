// Package worker содержит фоновые воркеры commerce.
package worker

import (
	"context"
	"time"

	"example.com/learning-commerce/pkg/logger"
)

// =============================================================================
// ExpiryWorker — фоновое истечение заказов и доступов
// =============================================================================

// Expirer — операции истечения. Реализуется *service.ExpiryService.
type Expirer interface {
	ExpireOrders(ctx context.Context, limit int) (int, error)
	ExpireAccesses(ctx context.Context, limit int) (int, error)
}

// Locker — блокировка, чтобы цикл выполняла одна реплика. Реализуется *redislock.Locker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// ExpiryWorkerConfig — настройки воркера.
type ExpiryWorkerConfig struct {
	// Interval — пауза между циклами.
	Interval time.Duration

	// BatchSize — максимум заказов и доступов за цикл.
	BatchSize int

	// LockTTL — время жизни блокировки цикла. Должно превышать длительность цикла.
	LockTTL time.Duration
}

// DefaultExpiryWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultExpiryWorkerConfig() ExpiryWorkerConfig {
	return ExpiryWorkerConfig{
		Interval:  time.Minute,
		BatchSize: 100,
		LockTTL:   time.Minute,
	}
}

const sweepLockKey = "expiry-sweep"

// ExpiryWorker периодически переводит pending заказы с истёкшим окном оплаты
// и активные доступы с истёкшим сроком в expired.
type ExpiryWorker struct {
	expirer Expirer
	locker  Locker
	cfg     ExpiryWorkerConfig
}

// NewExpiryWorker создаёт воркер. Нулевые поля cfg заменяются значениями по умолчанию.
func NewExpiryWorker(expirer Expirer, locker Locker, cfg ExpiryWorkerConfig) *ExpiryWorker {
	def := DefaultExpiryWorkerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	return &ExpiryWorker{expirer: expirer, locker: locker, cfg: cfg}
}

// Run запускает воркер. Блокирует выполнение до отмены контекста.
func (w *ExpiryWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Expiry Worker")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Expiry Worker")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep выполняет один цикл, если блокировку не держит другая реплика.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	token, ok, err := w.locker.TryLock(ctx, sweepLockKey, w.cfg.LockTTL)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка блокировки цикла истечения")
		return
	}
	if !ok {
		log.Debug().Msg("Цикл истечения выполняет другая реплика")
		return
	}
	defer func() {
		if err := w.locker.Unlock(logger.Detach(ctx), sweepLockKey, token); err != nil {
			log.Warn().Err(err).Msg("Ошибка снятия блокировки цикла истечения")
		}
	}()

	orders, err := w.expirer.ExpireOrders(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка истечения заказов")
	}

	// Проверяем контекст между этапами
	select {
	case <-ctx.Done():
		return
	default:
	}

	accesses, err := w.expirer.ExpireAccesses(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка истечения доступов")
	}

	if orders > 0 || accesses > 0 {
		log.Info().
			Int("orders", orders).
			Int("accesses", accesses).
			Msg("Цикл истечения завершён")
	}
}
