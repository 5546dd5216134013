// Package domain содержит бизнес-сущности commerce: заказы, транзакции,
// доступы, продукты и доменные ошибки с классами для HTTP слоя.
package domain

import "errors"

// Kind — класс доменной ошибки. HTTP слой переводит класс в статус ответа.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindTimeout
	KindUnauthorized
	KindUnavailable
)

// String возвращает машинное имя класса.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error — доменная ошибка с классом и машинным кодом.
type Error struct {
	kind Kind
	code string
	msg  string
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind возвращает класс ошибки.
func (e *Error) Kind() Kind { return e.kind }

// Code возвращает машинный код для поля "error" ответа.
func (e *Error) Code() string { return e.code }

// KindOf возвращает класс ошибки с учётом обёрток. Неизвестные ошибки — KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return KindInternal
}

// CodeOf возвращает машинный код доменной ошибки или "internal_error".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return "internal_error"
}

// Доменные ошибки commerce.
var (
	// NotFound
	ErrOrderNotFound       = newError(KindNotFound, "order_not_found", "заказ не найден")
	ErrTransactionNotFound = newError(KindNotFound, "transaction_not_found", "транзакция не найдена")
	ErrAccessNotFound      = newError(KindNotFound, "access_not_found", "доступ не найден")
	ErrAccessTestNotFound  = newError(KindNotFound, "access_test_not_found", "доступ к тестам учреждения не найден")
	ErrProductNotFound     = newError(KindNotFound, "product_not_found", "продукт не найден или неактивен")
	ErrUserNotFound        = newError(KindNotFound, "user_not_found", "пользователь не найден")

	// Conflict
	ErrInvalidTransition      = newError(KindConflict, "invalid_transition", "недопустимый переход статуса")
	ErrAccessNotActive        = newError(KindConflict, "access_not_active", "доступ уже отозван или истёк")
	ErrActiveAccessExists     = newError(KindConflict, "active_access_exists", "у пользователя уже есть активный доступ этого типа, используйте смену тарифа")
	ErrProductNotEligible     = newError(KindConflict, "product_not_eligible", "тип продукта не подходит для этой операции")
	ErrPlanTypeMismatch       = newError(KindConflict, "plan_type_mismatch", "новый тариф должен быть того же типа, что и текущий доступ")
	ErrSubGrantsNotSupported  = newError(KindConflict, "sub_grants_not_supported", "тип доступа не поддерживает доступы к тестам учреждений")
	ErrOrderNotPending        = newError(KindConflict, "order_not_pending", "заказ не ожидает оплаты")
	ErrIdempotencyKeyConflict = newError(KindConflict, "idempotency_key_conflict", "ключ идемпотентности уже использован другим пользователем")
	ErrPaymentInProgress      = newError(KindConflict, "payment_in_progress", "ссылка на оплату уже создаётся, повторите запрос")

	// Forbidden
	ErrInvalidIdempotencyKey = newError(KindForbidden, "invalid_idempotency_key", "заголовок x-idempotency-key обязателен и должен быть UUID")
	ErrOrderForbidden        = newError(KindForbidden, "forbidden", "заказ принадлежит другому пользователю")

	// Timeout
	ErrOrderExpired = newError(KindTimeout, "order_expired", "время оплаты заказа истекло")

	// Unauthorized
	ErrInvalidCallbackToken = newError(KindUnauthorized, "invalid_callback_token", "неверный токен вебхука")

	// Validation
	ErrInvalidDiscount    = newError(KindValidation, "invalid_discount", "скидка должна быть от 0 до цены продукта")
	ErrInvalidProductType = newError(KindValidation, "invalid_product_type", "неизвестный тип продукта")
	ErrInvalidDuration    = newError(KindValidation, "invalid_duration", "длительность тарифа должна быть больше нуля")
	ErrInvalidSubGrant    = newError(KindValidation, "invalid_sub_grant", "не указано учреждение для доступа к тестам")
	ErrInvalidWebhook     = newError(KindValidation, "invalid_webhook", "некорректный payload вебхука")

	// Unavailable
	ErrGatewayUnavailable = newError(KindUnavailable, "gateway_unavailable", "платёжный шлюз временно недоступен")

	// Внутренние сигналы репозиториев, наружу не выходят.
	ErrDuplicateOrder   = newError(KindConflict, "duplicate_order", "заказ с таким idempotency_key уже существует")
	ErrDuplicateWebhook = newError(KindConflict, "duplicate_webhook", "вебхук уже обработан")
)
