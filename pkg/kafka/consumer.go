package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/learning-commerce/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение. Context содержит
// trace_id и correlation_id из headers сообщения.
type MessageHandler func(ctx context.Context, msg *Message) error

// messageReader — подмножество *kafka.Reader, нужное Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// RetryPolicy задаёт повторы обработки одного сообщения.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy — 3 повтора с задержкой 100ms, 200ms, 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// Consumer читает сообщения из топика в рамках consumer group.
type Consumer struct {
	reader   messageReader
	producer *Producer
	dlqTopic string
	topic    string
}

// NewConsumer создаёт Consumer. Несколько инстансов с одним groupID
// делят партиции между собой.
func NewConsumer(cfg Config, topic string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", cfg.ConsumerGroup).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic, dlqTopic: cfg.DLQTopic}, nil
}

// SetDLQProducer устанавливает Producer для переноса ошибочных сообщений в DLQ.
func (c *Consumer) SetDLQProducer(p *Producer) {
	c.producer = p
}

// Consume читает сообщения до отмены context.
// Offset коммитится после обработки. Ошибочное сообщение уходит в DLQ
// (если он настроен) и тоже коммитится, чтобы не блокировать партицию.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().
		Str("topic", c.topic).
		Msg("Запуск чтения сообщений из Kafka")

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info().Str("topic", c.topic).Msg("Остановка Consumer")
				return ctx.Err()
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(km)
		msgCtx := contextFromMessage(ctx, msg)
		log := logger.FromContext(msgCtx)

		if err := handler(msgCtx, msg); err != nil {
			log.Error().
				Err(err).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Ошибка обработки сообщения")

			if c.producer != nil && c.dlqTopic != "" {
				if dlqErr := c.producer.SendToDLQ(msgCtx, c.dlqTopic, msg, err); dlqErr != nil {
					log.Error().Err(dlqErr).Msg("Ошибка отправки в DLQ")
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Ошибка коммита offset")
		}
	}
}

// ConsumeWithRetry оборачивает handler повторами с экспоненциальной задержкой.
func (c *Consumer) ConsumeWithRetry(ctx context.Context, handler MessageHandler, policy RetryPolicy) error {
	return c.Consume(ctx, withRetry(handler, policy))
}

// withRetry возвращает handler, повторяющий вызов до policy.MaxRetries раз.
// Ошибки, помеченные Permanent, не повторяются.
func withRetry(handler MessageHandler, policy RetryPolicy) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var lastErr error
		for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := policy.BaseDelay * time.Duration(1<<(attempt-1))
				logger.Ctx(ctx).Warn().
					Int("attempt", attempt).
					Str("key", string(msg.Key)).
					Dur("delay", delay).
					Msg("Повторная попытка обработки сообщения")

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			lastErr = handler(ctx, msg)
			if lastErr == nil {
				return nil
			}
			if IsPermanent(lastErr) {
				return lastErr
			}
		}
		return fmt.Errorf("исчерпаны попытки обработки: %w", lastErr)
	}
}

// permanentError — ошибка, повтор которой бессмысленен (битый payload).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Close закрывает Consumer.
func (c *Consumer) Close() error {
	logger.Info().Str("topic", c.topic).Msg("Закрытие Kafka Consumer")

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	return nil
}

// Lag возвращает текущее отставание Consumer от конца топика.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
