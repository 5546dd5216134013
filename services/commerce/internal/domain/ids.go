package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	orderIDPrefix       = "ROORDER"
	transactionIDPrefix = "ROTX"
	invoicePrefix       = "INV-RO"
	dayLayout           = "20060102"
)

// DayKey возвращает сутки в формате yyyyMMdd в часовом поясе loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// NewOrderID возвращает ROORDER-{yyyyMMdd}-{ULID}.
func NewOrderID(now time.Time, loc *time.Location) string {
	return newPrefixedID(orderIDPrefix, now, loc)
}

// NewTransactionID возвращает ROTX-{yyyyMMdd}-{ULID}. Служит external_id в платёжном шлюзе.
func NewTransactionID(now time.Time, loc *time.Location) string {
	return newPrefixedID(transactionIDPrefix, now, loc)
}

func newPrefixedID(prefix string, now time.Time, loc *time.Location) string {
	return prefix + "-" + DayKey(now, loc) + "-" + ulid.Make().String()
}

// IsTransactionID проверяет форму ROTX-{yyyyMMdd}-{suffix}.
func IsTransactionID(id string) bool {
	return hasPrefixedShape(id, transactionIDPrefix)
}

// IsOrderID проверяет форму ROORDER-{yyyyMMdd}-{suffix}.
func IsOrderID(id string) bool {
	return hasPrefixedShape(id, orderIDPrefix)
}

func hasPrefixedShape(id, prefix string) bool {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 || parts[0] != prefix || parts[2] == "" {
		return false
	}
	_, err := time.Parse(dayLayout, parts[1])
	return err == nil
}

// FormatInvoiceNumber возвращает INV-RO-{yyyyMMdd}-{seq}; seq начинается с 1.
func FormatInvoiceNumber(dayKey string, seq int64) string {
	return fmt.Sprintf("%s-%s-%d", invoicePrefix, dayKey, seq)
}
