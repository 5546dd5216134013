package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/learning-commerce/pkg/logger"
)

// messageWriter — подмножество *kafka.Writer, нужное Producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer отправляет сообщения в Kafka с headers трассировки.
type Producer struct {
	writer messageWriter
	cfg    Config
}

// NewProducer создаёт Producer в синхронном режиме: WriteMessages возвращается
// после подтверждения лидера, поэтому outbox помечает запись отправленной
// только после реальной доставки.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer, cfg: cfg}, nil
}

// Publish отправляет сообщение в топик. Стандартные headers добавляются из context.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	return p.SendMessage(ctx, &Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	})
}

// SendMessage отправляет подготовленный Message.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Topic == "" {
		return errors.New("не указан топик сообщения")
	}

	msg.Headers = withContextHeaders(ctx, msg.Headers)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// SendToDLQ переносит сообщение в DLQ, сохраняя исходные headers
// и добавляя причину ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, topic string, original *Message, processingErr error) error {
	headers := make(map[string]string, len(original.Headers)+3)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers[HeaderDLQError] = processingErr.Error()
	headers[HeaderDLQOriginalTopic] = original.Topic
	headers[HeaderDLQTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	return p.SendMessage(ctx, &Message{
		Topic:   topic,
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
	})
}

// Close закрывает соединение с Kafka.
func (p *Producer) Close() error {
	logger.Info().Msg("Закрытие Kafka Producer")

	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	return nil
}
