package domain

import (
	"fmt"
	"sort"
	"sync"
)

// ProductType — категория продукта.
type ProductType string

const (
	ProductTypeSubscription ProductType = "subscription"
	ProductTypeTryout       ProductType = "tryout"
	ProductTypeWebinar      ProductType = "webinar"
)

// Capabilities описывает, что продукт умеет. Код заказов, доступов и оплаты
// спрашивает возможности, а не сравнивает тип с константами.
type Capabilities struct {
	// GrantsEntitlement — оплата продукта выдаёт доступ (Access).
	GrantsEntitlement bool

	// RequiresSubGrants — доступ содержит доступы к тестам учреждений (AccessTest).
	RequiresSubGrants bool

	// GatewayPayable — продукт можно купить самостоятельно через платёжный шлюз.
	GatewayPayable bool

	// AdminIssuable — администратор может выдать продукт без оплаты через шлюз.
	AdminIssuable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[ProductType]Capabilities{}
)

func init() {
	RegisterProductType(ProductTypeSubscription, Capabilities{
		GrantsEntitlement: true,
		GatewayPayable:    true,
		AdminIssuable:     true,
	})
	RegisterProductType(ProductTypeTryout, Capabilities{
		GrantsEntitlement: true,
		RequiresSubGrants: true,
		GatewayPayable:    true,
		AdminIssuable:     true,
	})
	RegisterProductType(ProductTypeWebinar, Capabilities{
		GatewayPayable: true,
	})
}

// RegisterProductType добавляет или заменяет тип продукта.
func RegisterProductType(t ProductType, caps Capabilities) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = caps
}

// CapabilitiesOf возвращает возможности типа.
func CapabilitiesOf(t ProductType) (Capabilities, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	caps, ok := registry[t]
	return caps, ok
}

// ParseProductType проверяет, что тип зарегистрирован.
func ParseProductType(s string) (ProductType, error) {
	t := ProductType(s)
	if _, ok := CapabilitiesOf(t); !ok {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidProductType)
	}
	return t, nil
}

// ProductTypes возвращает зарегистрированные типы по алфавиту.
func ProductTypes() []ProductType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]ProductType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Product — продукт каталога (read model).
type Product struct {
	ID             string
	Name           string
	Type           ProductType
	Price          int64
	DurationMonths int
	IsActive       bool
}

// Capabilities возвращает возможности типа продукта.
func (p *Product) Capabilities() Capabilities {
	caps, _ := CapabilitiesOf(p.Type)
	return caps
}

// User — покупатель (read model сервиса пользователей).
type User struct {
	ID       string
	Name     string
	Email    string
	Phone    string
	Timezone string
}
