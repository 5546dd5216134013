package domain

import "time"

// OrderFlow — сценарий, которым создан заказ.
type OrderFlow string

const (
	// FlowCheckout — самостоятельная покупка, доступ выдаётся после оплаты.
	FlowCheckout OrderFlow = "checkout"

	// FlowAdminGrant — выдача администратором, заказ сразу оплачен.
	FlowAdminGrant OrderFlow = "admin_grant"

	// FlowPlanChange — смена тарифа, заказ сразу оплачен.
	FlowPlanChange OrderFlow = "plan_change"
)

// SettlesOnCreation возвращает true для сценариев, где оплата подтверждена вручную.
func (f OrderFlow) SettlesOnCreation() bool {
	return f == FlowAdminGrant || f == FlowPlanChange
}

// Платёжные шлюзы транзакций.
const (
	GatewayXendit = "xendit"
	GatewayManual = "manual"
	GatewayFree   = "free"
)

// Order — одна попытка покупки.
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string
	InvoiceNumber  string
	Flow           OrderFlow
	Status         OrderStatus

	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
	PaidAmount     int64
	DiscountCode   string

	// ExpiredAt — крайний срок оплаты. Для заказов, оплаченных при создании, nil.
	ExpiredAt *time.Time
	PaidAt    *time.Time

	// Снимки контактов покупателя, зашифрованные AES-GCM.
	CustomerNameEnc  string
	CustomerEmailEnc string
	CustomerPhoneEnc string

	// ReplacesAccessID — доступ, который заменяет заказ смены тарифа.
	ReplacesAccessID *string

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	Items        []OrderItem
	Transactions []Transaction
}

// OrderItem — снимок продукта на момент покупки. Не меняется после создания.
type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	ProductName    string
	ProductType    ProductType
	Price          int64
	DurationMonths int
	Quantity       int
}

// Transaction — попытка оплаты. Записи не удаляются.
type Transaction struct {
	ID               string // ROTX-..., external_id в шлюзе
	OrderID          string
	Gateway          string
	GatewayInvoiceID string
	InvoiceURL       string
	Method           string
	Channel          string
	Amount           int64
	Status           TransactionStatus
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderRef — публичная идентичность заказа.
type OrderRef struct {
	OrderID       string
	InvoiceNumber string
	Status        OrderStatus
	// Replayed — заказ уже существовал для этого ключа идемпотентности.
	Replayed bool
}

// Ref возвращает OrderRef заказа.
func (o *Order) Ref() OrderRef {
	return OrderRef{OrderID: o.ID, InvoiceNumber: o.InvoiceNumber, Status: o.Status}
}

// PaymentWindowClosed возвращает true, если срок оплаты истёк к моменту now.
func (o *Order) PaymentWindowClosed(now time.Time) bool {
	return o.ExpiredAt != nil && now.After(*o.ExpiredAt)
}

// EffectiveStatus возвращает expired для pending заказа с истёкшим окном оплаты,
// даже если фоновая проверка ещё не обновила строку.
func (o *Order) EffectiveStatus(now time.Time) OrderStatus {
	if o.Status == OrderStatusPending && o.PaymentWindowClosed(now) {
		return OrderStatusExpired
	}
	return o.Status
}

// PendingTransaction возвращает последнюю транзакцию в статусе pending.
func (o *Order) PendingTransaction() *Transaction {
	for i := len(o.Transactions) - 1; i >= 0; i-- {
		if o.Transactions[i].Status == TransactionStatusPending {
			return &o.Transactions[i]
		}
	}
	return nil
}

// Item возвращает первую позицию заказа. Заказ всегда содержит одну позицию.
func (o *Order) Item() *OrderItem {
	if len(o.Items) == 0 {
		return nil
	}
	return &o.Items[0]
}

// ComputeAmounts проверяет скидку и возвращает итоговую сумму.
func ComputeAmounts(price, discount int64) (total, final int64, err error) {
	if discount < 0 || discount > price {
		return 0, 0, ErrInvalidDiscount
	}
	return price, price - discount, nil
}
