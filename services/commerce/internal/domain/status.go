package domain

import "fmt"

// =============================================================================
// Таблицы переходов. Любая запись статуса проходит через CheckTransition.
// =============================================================================

// OrderStatus — статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusReplaced  OrderStatus = "replaced"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// TransactionStatus — статус платёжной транзакции.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusExpired TransactionStatus = "expired"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// AccessStatus — статус доступа.
type AccessStatus string

const (
	AccessStatusActive  AccessStatus = "active"
	AccessStatusRevoked AccessStatus = "revoked"
	AccessStatusExpired AccessStatus = "expired"
)

// paid -> replaced: оплаченный заказ заменяется при смене тарифа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusReplaced},
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {TransactionStatusSuccess, TransactionStatusExpired, TransactionStatusFailed},
}

// Доступ не возвращается в active ни из одного состояния.
var accessTransitions = map[AccessStatus][]AccessStatus{
	AccessStatusActive: {AccessStatusRevoked, AccessStatusExpired},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionTo проверяет переход по таблице заказов.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool { return allowed(orderTransitions, s, to) }

// IsTerminal возвращает true, если из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool { return len(orderTransitions[s]) == 0 }

// Valid проверяет, что статус из закрытого набора.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusReplaced, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo проверяет переход по таблице транзакций.
func (s TransactionStatus) CanTransitionTo(to TransactionStatus) bool {
	return allowed(transactionTransitions, s, to)
}

// IsTerminal возвращает true, если из статуса нет переходов.
func (s TransactionStatus) IsTerminal() bool { return len(transactionTransitions[s]) == 0 }

// CanTransitionTo проверяет переход по таблице доступов.
func (s AccessStatus) CanTransitionTo(to AccessStatus) bool { return allowed(accessTransitions, s, to) }

// IsTerminal возвращает true, если из статуса нет переходов.
func (s AccessStatus) IsTerminal() bool { return len(accessTransitions[s]) == 0 }

// CheckOrderTransition возвращает ErrInvalidTransition с контекстом перехода.
func CheckOrderTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("заказ %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// CheckTransactionTransition возвращает ErrInvalidTransition с контекстом перехода.
func CheckTransactionTransition(from, to TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("транзакция %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// CheckAccessTransition возвращает ErrAccessNotActive для терминальных доступов.
func CheckAccessTransition(from, to AccessStatus) error {
	if !from.CanTransitionTo(to) {
		if from.IsTerminal() {
			return fmt.Errorf("доступ %s -> %s: %w", from, to, ErrAccessNotActive)
		}
		return fmt.Errorf("доступ %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
