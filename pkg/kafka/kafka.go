// Package kafka предоставляет обёртки над kafka-go для доставки уведомлений:
// commerce публикует события из outbox, notifier читает их и отправляет письма.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/learning-commerce/pkg/logger"
)

// Топики уведомлений.
const (
	// TopicNotifications — события заказов и доступов (commerce -> notifier).
	TopicNotifications = "commerce.notifications"

	// TopicNotificationsDLQ — Dead Letter Queue для сообщений, которые не удалось обработать.
	TopicNotificationsDLQ = "dlq.commerce.notifications"
)

// Ключи для headers сообщений Kafka.
const (
	// HeaderTraceID — идентификатор трассировки.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID — связывает HTTP запрос, запись outbox и письмо.
	HeaderCorrelationID = "correlation_id"

	// HeaderEventType — тип события (order.paid, access.granted...).
	HeaderEventType = "event_type"

	// HeaderTimestamp — временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Headers, которые добавляются при переносе сообщения в DLQ.
const (
	HeaderDLQError         = "dlq_error"
	HeaderDLQOriginalTopic = "dlq_original_topic"
	HeaderDLQTimestamp     = "dlq_timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string

	// DLQTopic — куда переносить сообщения после исчерпания попыток.
	// Пустое значение отключает DLQ.
	DLQTopic string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// withContextHeaders дополняет headers идентификаторами из context
// и временной меткой. Явно заданные значения не перезаписываются.
func withContextHeaders(ctx context.Context, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+3)
	for k, v := range headers {
		out[k] = v
	}

	if _, ok := out[HeaderTraceID]; !ok {
		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			out[HeaderTraceID] = traceID
		}
	}
	if _, ok := out[HeaderCorrelationID]; !ok {
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			out[HeaderCorrelationID] = correlationID
		}
	}
	if _, ok := out[HeaderTimestamp]; !ok {
		out[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return out
}

// contextFromMessage переносит trace_id и correlation_id из headers в context.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}
