package repository

import (
	"time"

	"example.com/learning-commerce/services/commerce/internal/domain"
)

// =============================================================================
// Заказы
// =============================================================================

// OrderModel — GORM модель таблицы orders.
type OrderModel struct {
	ID               string             `gorm:"column:id;type:varchar(64);primaryKey"`
	UserID           string             `gorm:"column:user_id;type:varchar(64);not null;index"`
	IdempotencyKey   string             `gorm:"column:idempotency_key;type:varchar(64);not null;uniqueIndex"`
	InvoiceNumber    string             `gorm:"column:invoice_number;type:varchar(40);not null;uniqueIndex"`
	Flow             string             `gorm:"column:flow;type:varchar(20);not null"`
	Status           string             `gorm:"column:status;type:varchar(20);not null;index:idx_orders_status_expired,priority:1"`
	TotalAmount      int64              `gorm:"column:total_amount;not null"`
	DiscountAmount   int64              `gorm:"column:discount_amount;not null;default:0"`
	FinalAmount      int64              `gorm:"column:final_amount;not null"`
	PaidAmount       int64              `gorm:"column:paid_amount;not null;default:0"`
	DiscountCode     *string            `gorm:"column:discount_code;type:varchar(64)"`
	ExpiredAt        *time.Time         `gorm:"column:expired_at;index:idx_orders_status_expired,priority:2"`
	PaidAt           *time.Time         `gorm:"column:paid_at"`
	CustomerNameEnc  string             `gorm:"column:customer_name_enc;type:text"`
	CustomerEmailEnc string             `gorm:"column:customer_email_enc;type:text"`
	CustomerPhoneEnc string             `gorm:"column:customer_phone_enc;type:text"`
	ReplacesAccessID *string            `gorm:"column:replaces_access_id;type:varchar(64)"`
	CreatedBy        string             `gorm:"column:created_by;type:varchar(64);not null"`
	UpdatedBy        string             `gorm:"column:updated_by;type:varchar(64);not null"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	Items            []OrderItemModel   `gorm:"foreignKey:OrderID;references:ID"`
	Transactions     []TransactionModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string { return "orders" }

// OrderItemModel — снимок продукта в заказе.
type OrderItemModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID        string    `gorm:"column:order_id;type:varchar(64);not null;index"`
	ProductID      string    `gorm:"column:product_id;type:varchar(64);not null"`
	ProductName    string    `gorm:"column:product_name;type:varchar(255);not null"`
	ProductType    string    `gorm:"column:product_type;type:varchar(20);not null"`
	Price          int64     `gorm:"column:price;not null"`
	DurationMonths int       `gorm:"column:duration_months;not null;default:0"`
	Quantity       int       `gorm:"column:quantity;not null;default:1"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string { return "order_items" }

// TransactionModel — попытка оплаты заказа.
type TransactionModel struct {
	ID               string     `gorm:"column:id;type:varchar(64);primaryKey"`
	OrderID          string     `gorm:"column:order_id;type:varchar(64);not null;index"`
	Gateway          string     `gorm:"column:gateway;type:varchar(20);not null"`
	GatewayInvoiceID *string    `gorm:"column:gateway_invoice_id;type:varchar(64);index"`
	InvoiceURL       *string    `gorm:"column:invoice_url;type:varchar(512)"`
	Method           *string    `gorm:"column:method;type:varchar(40)"`
	Channel          *string    `gorm:"column:channel;type:varchar(40)"`
	Amount           int64      `gorm:"column:amount;not null"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;index"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionModel) TableName() string { return "transactions" }

// InvoiceCounterModel — счётчик номеров счетов за бизнес-сутки.
type InvoiceCounterModel struct {
	Day       string    `gorm:"column:day;type:varchar(8);primaryKey"`
	LastSeq   int64     `gorm:"column:last_seq;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (InvoiceCounterModel) TableName() string { return "invoice_counters" }

// =============================================================================
// Доступы
// =============================================================================

// AccessModel — GORM модель таблицы accesses.
type AccessModel struct {
	ID             string            `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID         string            `gorm:"column:user_id;type:varchar(64);not null;index:idx_accesses_user_type_status,priority:1"`
	Type           string            `gorm:"column:type;type:varchar(20);not null;index:idx_accesses_user_type_status,priority:2"`
	Status         string            `gorm:"column:status;type:varchar(20);not null;index:idx_accesses_user_type_status,priority:3;index:idx_accesses_status_expired,priority:1"`
	IsActive       bool              `gorm:"column:is_active;not null"`
	ProductID      string            `gorm:"column:product_id;type:varchar(64);not null"`
	OrderID        *string           `gorm:"column:order_id;type:varchar(64);uniqueIndex"`
	StartedAt      time.Time         `gorm:"column:started_at;not null"`
	ExpiredAt      time.Time         `gorm:"column:expired_at;not null;index:idx_accesses_status_expired,priority:2"`
	DurationMonths int               `gorm:"column:duration_months;not null"`
	UpdateReason   *string           `gorm:"column:update_reason;type:varchar(255)"`
	CreatedBy      string            `gorm:"column:created_by;type:varchar(64);not null"`
	UpdatedBy      string            `gorm:"column:updated_by;type:varchar(64);not null"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	Tests          []AccessTestModel `gorm:"foreignKey:AccessID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (AccessModel) TableName() string { return "accesses" }

// AccessTestModel — доступ к тестам учреждения.
type AccessTestModel struct {
	ID              string    `gorm:"column:id;type:varchar(36);primaryKey"`
	AccessID        string    `gorm:"column:access_id;type:varchar(36);not null;uniqueIndex:idx_access_tests_institution,priority:1"`
	InstitutionID   string    `gorm:"column:institution_id;type:varchar(64);not null;uniqueIndex:idx_access_tests_institution,priority:2"`
	InstitutionName string    `gorm:"column:institution_name;type:varchar(255)"`
	CreatedBy       string    `gorm:"column:created_by;type:varchar(64);not null"`
	UpdatedBy       string    `gorm:"column:updated_by;type:varchar(64);not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AccessTestModel) TableName() string { return "access_tests" }

// AccessRevokeLogModel — журнал отзывов. Только вставка.
type AccessRevokeLogModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	AccessID  string    `gorm:"column:access_id;type:varchar(36);not null;index"`
	Reason    string    `gorm:"column:reason;type:varchar(255);not null"`
	RevokedBy string    `gorm:"column:revoked_by;type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AccessRevokeLogModel) TableName() string { return "access_revoke_logs" }

// =============================================================================
// Вебхуки и справочники
// =============================================================================

// WebhookEventModel — журнал вебхуков платёжного шлюза.
type WebhookEventModel struct {
	ID              string     `gorm:"column:id;type:varchar(36);primaryKey"`
	Provider        string     `gorm:"column:provider;type:varchar(20);not null;uniqueIndex:idx_webhook_event,priority:1"`
	ProviderEventID string     `gorm:"column:provider_event_id;type:varchar(64);not null;uniqueIndex:idx_webhook_event,priority:2"`
	Status          string     `gorm:"column:status;type:varchar(20);not null;uniqueIndex:idx_webhook_event,priority:3"`
	ExternalID      string     `gorm:"column:external_id;type:varchar(64);not null;index"`
	Payload         string     `gorm:"column:payload;type:text"`
	Outcome         string     `gorm:"column:outcome;type:varchar(20)"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (WebhookEventModel) TableName() string { return "payment_webhook_events" }

// ProductModel — каталог продуктов. Владелец таблицы — сервис каталога.
type ProductModel struct {
	ID             string `gorm:"column:id;type:varchar(64);primaryKey"`
	Name           string `gorm:"column:name;type:varchar(255);not null"`
	Type           string `gorm:"column:type;type:varchar(20);not null;index"`
	Price          int64  `gorm:"column:price;not null"`
	DurationMonths int    `gorm:"column:duration_months;not null;default:0"`
	IsActive       bool   `gorm:"column:is_active;not null;default:true"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string { return "products" }

// UserModel — пользователи. Владелец таблицы — сервис пользователей.
type UserModel struct {
	ID       string `gorm:"column:id;type:varchar(64);primaryKey"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`
	Email    string `gorm:"column:email;type:varchar(255);not null"`
	Phone    string `gorm:"column:phone;type:varchar(32)"`
	Timezone string `gorm:"column:timezone;type:varchar(64)"`
}

// TableName возвращает имя таблицы в БД.
func (UserModel) TableName() string { return "users" }

// Models возвращает все модели для AutoMigrate.
func Models() []any {
	return []any{
		&OrderModel{}, &OrderItemModel{}, &TransactionModel{}, &InvoiceCounterModel{},
		&AccessModel{}, &AccessTestModel{}, &AccessRevokeLogModel{},
		&WebhookEventModel{}, &ProductModel{}, &UserModel{},
	}
}

// =============================================================================
// Конвертация
// =============================================================================

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:               m.ID,
		UserID:           m.UserID,
		IdempotencyKey:   m.IdempotencyKey,
		InvoiceNumber:    m.InvoiceNumber,
		Flow:             domain.OrderFlow(m.Flow),
		Status:           domain.OrderStatus(m.Status),
		TotalAmount:      m.TotalAmount,
		DiscountAmount:   m.DiscountAmount,
		FinalAmount:      m.FinalAmount,
		PaidAmount:       m.PaidAmount,
		DiscountCode:     strVal(m.DiscountCode),
		ExpiredAt:        m.ExpiredAt,
		PaidAt:           m.PaidAt,
		CustomerNameEnc:  m.CustomerNameEnc,
		CustomerEmailEnc: m.CustomerEmailEnc,
		CustomerPhoneEnc: m.CustomerPhoneEnc,
		ReplacesAccessID: m.ReplacesAccessID,
		CreatedBy:        m.CreatedBy,
		UpdatedBy:        m.UpdatedBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		Items:            make([]domain.OrderItem, len(m.Items)),
		Transactions:     make([]domain.Transaction, len(m.Transactions)),
	}
	for i := range m.Items {
		o.Items[i] = m.Items[i].toDomain()
	}
	for i := range m.Transactions {
		o.Transactions[i] = *m.Transactions[i].toDomain()
	}
	return o
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:               o.ID,
		UserID:           o.UserID,
		IdempotencyKey:   o.IdempotencyKey,
		InvoiceNumber:    o.InvoiceNumber,
		Flow:             string(o.Flow),
		Status:           string(o.Status),
		TotalAmount:      o.TotalAmount,
		DiscountAmount:   o.DiscountAmount,
		FinalAmount:      o.FinalAmount,
		PaidAmount:       o.PaidAmount,
		DiscountCode:     strPtr(o.DiscountCode),
		ExpiredAt:        o.ExpiredAt,
		PaidAt:           o.PaidAt,
		CustomerNameEnc:  o.CustomerNameEnc,
		CustomerEmailEnc: o.CustomerEmailEnc,
		CustomerPhoneEnc: o.CustomerPhoneEnc,
		ReplacesAccessID: o.ReplacesAccessID,
		CreatedBy:        o.CreatedBy,
		UpdatedBy:        o.UpdatedBy,
		Items:            make([]OrderItemModel, len(o.Items)),
		Transactions:     make([]TransactionModel, len(o.Transactions)),
	}
	for i := range o.Items {
		m.Items[i] = orderItemModelFromDomain(o.ID, &o.Items[i])
	}
	for i := range o.Transactions {
		m.Transactions[i] = *transactionModelFromDomain(o.ID, &o.Transactions[i])
	}
	return m
}

func (m *OrderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:             m.ID,
		OrderID:        m.OrderID,
		ProductID:      m.ProductID,
		ProductName:    m.ProductName,
		ProductType:    domain.ProductType(m.ProductType),
		Price:          m.Price,
		DurationMonths: m.DurationMonths,
		Quantity:       m.Quantity,
	}
}

func orderItemModelFromDomain(orderID string, it *domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:             it.ID,
		OrderID:        orderID,
		ProductID:      it.ProductID,
		ProductName:    it.ProductName,
		ProductType:    string(it.ProductType),
		Price:          it.Price,
		DurationMonths: it.DurationMonths,
		Quantity:       it.Quantity,
	}
}

func (m *TransactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:               m.ID,
		OrderID:          m.OrderID,
		Gateway:          m.Gateway,
		GatewayInvoiceID: strVal(m.GatewayInvoiceID),
		InvoiceURL:       strVal(m.InvoiceURL),
		Method:           strVal(m.Method),
		Channel:          strVal(m.Channel),
		Amount:           m.Amount,
		Status:           domain.TransactionStatus(m.Status),
		PaidAt:           m.PaidAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func transactionModelFromDomain(orderID string, t *domain.Transaction) *TransactionModel {
	return &TransactionModel{
		ID:               t.ID,
		OrderID:          orderID,
		Gateway:          t.Gateway,
		GatewayInvoiceID: strPtr(t.GatewayInvoiceID),
		InvoiceURL:       strPtr(t.InvoiceURL),
		Method:           strPtr(t.Method),
		Channel:          strPtr(t.Channel),
		Amount:           t.Amount,
		Status:           string(t.Status),
		PaidAt:           t.PaidAt,
	}
}

func (m *AccessModel) toDomain() *domain.Access {
	a := &domain.Access{
		ID:             m.ID,
		UserID:         m.UserID,
		Type:           domain.ProductType(m.Type),
		ProductID:      m.ProductID,
		OrderID:        m.OrderID,
		Status:         domain.AccessStatus(m.Status),
		IsActive:       m.IsActive,
		StartedAt:      m.StartedAt,
		ExpiredAt:      m.ExpiredAt,
		DurationMonths: m.DurationMonths,
		UpdateReason:   strVal(m.UpdateReason),
		CreatedBy:      m.CreatedBy,
		UpdatedBy:      m.UpdatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Tests:          make([]domain.AccessTest, len(m.Tests)),
	}
	for i := range m.Tests {
		a.Tests[i] = m.Tests[i].toDomain()
	}
	return a
}

func accessModelFromDomain(a *domain.Access) *AccessModel {
	m := &AccessModel{
		ID:             a.ID,
		UserID:         a.UserID,
		Type:           string(a.Type),
		Status:         string(a.Status),
		IsActive:       a.IsActive,
		ProductID:      a.ProductID,
		OrderID:        a.OrderID,
		StartedAt:      a.StartedAt.UTC(),
		ExpiredAt:      a.ExpiredAt.UTC(),
		DurationMonths: a.DurationMonths,
		UpdateReason:   strPtr(a.UpdateReason),
		CreatedBy:      a.CreatedBy,
		UpdatedBy:      a.UpdatedBy,
		Tests:          make([]AccessTestModel, len(a.Tests)),
	}
	for i, t := range a.Tests {
		m.Tests[i] = AccessTestModel{
			ID:              t.ID,
			AccessID:        a.ID,
			InstitutionID:   t.InstitutionID,
			InstitutionName: t.InstitutionName,
			CreatedBy:       t.CreatedBy,
			UpdatedBy:       t.UpdatedBy,
		}
	}
	return m
}

func (m *AccessTestModel) toDomain() domain.AccessTest {
	return domain.AccessTest{
		ID:              m.ID,
		AccessID:        m.AccessID,
		InstitutionID:   m.InstitutionID,
		InstitutionName: m.InstitutionName,
		CreatedBy:       m.CreatedBy,
		UpdatedBy:       m.UpdatedBy,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
