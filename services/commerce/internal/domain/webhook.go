package domain

import (
	"strings"
	"time"
)

// PaymentStatus — статус счёта во вебхуке платёжного шлюза.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusSettled PaymentStatus = "SETTLED"
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// Normalize приводит статус к верхнему регистру; SETTLED считается PAID.
func (s PaymentStatus) Normalize() PaymentStatus {
	n := PaymentStatus(strings.ToUpper(strings.TrimSpace(string(s))))
	if n == PaymentStatusSettled {
		return PaymentStatusPaid
	}
	return n
}

// PaymentNotification — разобранный вебхук шлюза.
type PaymentNotification struct {
	Provider        string
	ProviderEventID string // id счёта в шлюзе
	ExternalID      string // наш ROTX-... transaction_id
	Status          PaymentStatus
	InvoiceAmount   int64 // сумма выставленного счёта
	PaidAmount      int64
	PaidAt          *time.Time
	Method          string
	Channel         string
	Payload         []byte
}

// WebhookOutcome — результат обработки вебхука.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	// WebhookRejected — оплата по заказу, который уже не ждёт оплаты.
	// Запись остаётся в журнале для ручного разбора.
	WebhookRejected WebhookOutcome = "rejected"
)
