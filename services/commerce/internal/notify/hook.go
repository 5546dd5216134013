// Package notify — post-commit очередь уведомлений commerce.
//
// Сервисы вызывают Publish только после фиксации транзакции. Событие попадает
// в ограниченную очередь в памяти, фоновая горутина пишет его в outbox,
// откуда outbox.Worker доставляет его в Kafka. Переполненная очередь или
// ошибка записи логируются, событие теряется, на ответ клиенту это не влияет.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/pkg/outbox"
)

const metricsService = "commerce"

type queued struct {
	ctx   context.Context
	event events.Event
}

// Hook — ограниченная очередь событий перед outbox.
type Hook struct {
	repo  outbox.Repository
	topic string
	queue chan queued

	done chan struct{}
}

// NewHook создаёт очередь ёмкостью size.
func NewHook(repo outbox.Repository, size int) *Hook {
	if size <= 0 {
		size = 1024
	}
	return &Hook{
		repo:  repo,
		topic: kafka.TopicNotifications,
		queue: make(chan queued, size),
		done:  make(chan struct{}),
	}
}

// Publish ставит событие в очередь без блокировки.
// Контекст запроса отсоединяется: запись в outbox переживает его отмену.
func (h *Hook) Publish(ctx context.Context, e events.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	select {
	case h.queue <- queued{ctx: logger.Detach(ctx), event: e}:
		metrics.Notifications.WithLabelValues(metricsService, "queued").Inc()
	default:
		metrics.Notifications.WithLabelValues(metricsService, "dropped").Inc()
		logger.Ctx(ctx).Warn().
			Str("event_type", string(e.Type)).
			Str("order_id", e.OrderID).
			Str("access_id", e.AccessID).
			Msg("Очередь уведомлений переполнена, событие пропущено")
	}
}

// Run пишет события в outbox до отмены ctx, затем дописывает остаток очереди.
func (h *Hook) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return
		case q := <-h.queue:
			h.write(q)
		}
	}
}

// Wait блокирует до завершения Run.
func (h *Hook) Wait() {
	<-h.done
}

func (h *Hook) drain() {
	for {
		select {
		case q := <-h.queue:
			h.write(q)
		default:
			return
		}
	}
}

func (h *Hook) write(q queued) {
	log := logger.FromContext(q.ctx)

	payload, err := q.event.Marshal()
	if err != nil {
		metrics.Notifications.WithLabelValues(metricsService, "dropped").Inc()
		log.Error().Err(err).Str("event_type", string(q.event.Type)).Msg("Не удалось сериализовать событие")
		return
	}

	headers := map[string]string{kafka.HeaderEventType: string(q.event.Type)}
	if traceID := logger.TraceIDFromContext(q.ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(q.ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	record := outbox.NewRecord(events.AggregateType, q.event.AggregateID(), string(q.event.Type),
		h.topic, q.event.Key(), payload, headers)

	ctx, cancel := context.WithTimeout(q.ctx, 5*time.Second)
	defer cancel()

	if err := h.repo.Create(ctx, record); err != nil {
		metrics.Notifications.WithLabelValues(metricsService, "dropped").Inc()
		log.Error().Err(err).
			Str("event_type", string(q.event.Type)).
			Str("event_id", q.event.ID).
			Msg("Не удалось записать событие в outbox")
		return
	}

	log.Debug().
		Str("event_type", string(q.event.Type)).
		Str("event_id", q.event.ID).
		Msg("Событие записано в outbox")
}
