// Package outbox хранит исходящие сообщения в БД до успешной отправки в Kafka.
// Запись создаётся после фиксации бизнес-транзакции, отдельный Worker
// забирает её из таблицы и публикует в топик. Доставка at-least-once:
// получатель обязан быть идемпотентным по ключу события.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record — запись в таблице outbox.
type Record struct {
	ID            string
	AggregateType string            // commerce
	AggregateID   string            // order_id или access_id
	EventType     string            // order.paid, access.granted...
	Topic         string            // топик Kafka
	MessageKey    string            // ключ партиционирования (user_id)
	Payload       []byte            // JSON события
	Headers       map[string]string // trace_id, correlation_id, event_type
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewRecord создаёт запись с новым ID.
func NewRecord(aggregateType, aggregateID, eventType, topic, key string, payload []byte, headers map[string]string) *Record {
	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    key,
		Payload:       payload,
		Headers:       headers,
	}
}

// Model — GORM модель таблицы outbox.
type Model struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(64);not null;index:idx_outbox_aggregate"`
	EventType     string     `gorm:"column:event_type;type:varchar(100);not null"`
	Topic         string     `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey    string     `gorm:"column:message_key;type:varchar(100);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	Headers       []byte     `gorm:"column:headers;type:json"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time `gorm:"column:processed_at;index:idx_outbox_unprocessed"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	LastError     *string    `gorm:"column:last_error;type:text"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "outbox"
}

func (m *Model) toRecord() *Record {
	r := &Record{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
	if len(m.Headers) > 0 {
		// Битые headers не должны блокировать отправку payload.
		_ = json.Unmarshal(m.Headers, &r.Headers)
	}
	return r
}

func modelFromRecord(r *Record) (*Model, error) {
	m := &Model{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Topic:         r.Topic,
		MessageKey:    r.MessageKey,
		Payload:       r.Payload,
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if r.Headers != nil {
		data, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, err
		}
		m.Headers = data
	}
	return m, nil
}
