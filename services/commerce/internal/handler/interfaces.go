package handler

import (
	"context"

	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/service"
)

// OrderService — операции заказов покупателя.
// Позволяет мокировать сервисный слой в тестах.
type OrderService interface {
	Create(ctx context.Context, req service.CreateOrderRequest) (*domain.OrderRef, error)
	Get(ctx context.Context, orderID, userID string) (*service.OrderDetail, error)
	Status(ctx context.Context, orderID, userID string) (domain.OrderStatus, error)
	Pay(ctx context.Context, orderID, userID string) (*service.PaymentLink, error)
}

// AccessService — операции над доступами.
type AccessService interface {
	Grant(ctx context.Context, req service.GrantRequest) (*service.GrantResult, error)
	ChangePlan(ctx context.Context, req service.ChangePlanRequest) (*service.GrantResult, error)
	Revoke(ctx context.Context, req service.RevokeRequest) error
	UpsertSubGrants(ctx context.Context, accessID string, grants []domain.SubGrant, actor string) ([]domain.AccessTest, error)
	DeleteSubGrant(ctx context.Context, testID, actor string) error
	ListMine(ctx context.Context, userID string) ([]*domain.Access, error)
}

// WebhookService — приём уведомлений платёжного шлюза.
type WebhookService interface {
	HandleXenditInvoice(ctx context.Context, callbackToken string, body []byte) (domain.WebhookOutcome, error)
}
