// Package events описывает события уведомлений, которые commerce публикует
// после фиксации транзакции, а notifier превращает в письма.
// Единый источник правды для формата сообщений в топике commerce.notifications.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type — тип события.
type Type string

const (
	// OrderCreated — создан заказ, ожидающий оплаты через платёжный шлюз.
	OrderCreated Type = "order.created"

	// OrderPaid — заказ оплачен (вебхук или ручное подтверждение администратором).
	OrderPaid Type = "order.paid"

	// OrderExpired — окно оплаты заказа истекло.
	OrderExpired Type = "order.expired"

	// AccessGranted — выдан доступ к продукту.
	AccessGranted Type = "access.granted"

	// AccessRevoked — доступ отозван администратором.
	AccessRevoked Type = "access.revoked"

	// PlanChanged — тариф доступа заменён новым.
	PlanChanged Type = "plan.changed"
)

// AggregateType — тип агрегата для записи в outbox.
const AggregateType = "commerce"

// Event — конверт события уведомления.
// Адрес и имя получателя передаются зашифрованными тем же ключом, что и в БД.
type Event struct {
	ID               string            `json:"event_id"`
	Type             Type              `json:"type"`
	OccurredAt       time.Time         `json:"occurred_at"`
	UserID           string            `json:"user_id"`
	OrderID          string            `json:"order_id,omitempty"`
	AccessID         string            `json:"access_id,omitempty"`
	InvoiceNumber    string            `json:"invoice_number,omitempty"`
	Amount           int64             `json:"amount,omitempty"`
	RecipientEnc     string            `json:"recipient_enc,omitempty"`
	RecipientNameEnc string            `json:"recipient_name_enc,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

// Key возвращает ключ партиционирования: события одного пользователя
// попадают в одну партицию и обрабатываются по порядку.
func (e *Event) Key() string {
	return e.UserID
}

// AggregateID возвращает ID агрегата для outbox.
func (e *Event) AggregateID() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.AccessID
}

// Marshal сериализует событие в JSON.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", e.Type, err)
	}
	return data, nil
}

// Unmarshal десериализует событие из JSON.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ошибка десериализации события: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("событие без типа")
	}
	return &e, nil
}
