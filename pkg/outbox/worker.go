package outbox

import (
	"context"
	"time"

	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
)

// Publisher отправляет сообщение в Kafka. Реализуется *kafka.Producer.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Результаты отправки для метрик.
const (
	ResultSent       = "sent"
	ResultFailed     = "failed"
	ResultDeadLetter = "dead_letter"
)

// WorkerConfig — настройки Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// MaxRetries — после стольких неудачных попыток запись выводится из очереди.
	MaxRetries int

	CleanupInterval  time.Duration
	CleanupRetention time.Duration
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// Worker читает outbox и публикует записи в Kafka.
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
	name      string
	observe   func(result string)
}

// NewWorker создаёт Worker. name используется в логах.
func NewWorker(repo Repository, publisher Publisher, cfg WorkerConfig, name string) *Worker {
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.CleanupRetention <= 0 {
		cfg.CleanupRetention = def.CleanupRetention
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		name:      name,
		observe:   func(string) {},
	}
}

// OnResult регистрирует наблюдателя результатов отправки (метрики).
func (w *Worker) OnResult(fn func(result string)) {
	if fn != nil {
		w.observe = fn
	}
}

// Run блокирует выполнение до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", w.name).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", w.name).Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

// ProcessBatch отправляет одну пачку записей и возвращает число отправленных.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка чтения outbox")
		return 0
	}

	sent := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return sent
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("aggregate_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")

			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
			}
			w.observe(ResultDeadLetter)
			continue
		}

		if w.send(ctx, record) {
			sent++
		}
	}
	return sent
}

// send публикует запись. Context сообщения восстанавливается из headers записи,
// чтобы trace_id исходного HTTP запроса дошёл до notifier.
func (w *Worker) send(ctx context.Context, record *Record) bool {
	msgCtx := logger.NewContextWithIDs(ctx, record.Headers[kafka.HeaderTraceID], record.Headers[kafka.HeaderCorrelationID])
	log := logger.FromContext(msgCtx)

	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.publisher.SendMessage(msgCtx, msg); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Msg("Ошибка отправки в Kafka")

		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		w.observe(ResultFailed)
		return false
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		// Сообщение уже в Kafka: при следующем опросе уйдёт повторно.
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как обработанной")
		return false
	}

	w.observe(ResultSent)
	log.Debug().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Msg("Событие отправлено в Kafka")
	return true
}

func (w *Worker) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-w.cfg.CleanupRetention))
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", w.name).Msg("Очистка обработанных записей outbox")
	}
}
