package handler

import (
	"context"
	"errors"

	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/service"
)

var errNotConfigured = errors.New("mock func not set")

// MockOrderService — мок для OrderService.
type MockOrderService struct {
	CreateFunc func(ctx context.Context, req service.CreateOrderRequest) (*domain.OrderRef, error)
	GetFunc    func(ctx context.Context, orderID, userID string) (*service.OrderDetail, error)
	StatusFunc func(ctx context.Context, orderID, userID string) (domain.OrderStatus, error)
	PayFunc    func(ctx context.Context, orderID, userID string) (*service.PaymentLink, error)
}

func (m *MockOrderService) Create(ctx context.Context, req service.CreateOrderRequest) (*domain.OrderRef, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	return nil, errNotConfigured
}

func (m *MockOrderService) Get(ctx context.Context, orderID, userID string) (*service.OrderDetail, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, orderID, userID)
	}
	return nil, errNotConfigured
}

func (m *MockOrderService) Status(ctx context.Context, orderID, userID string) (domain.OrderStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, orderID, userID)
	}
	return "", errNotConfigured
}

func (m *MockOrderService) Pay(ctx context.Context, orderID, userID string) (*service.PaymentLink, error) {
	if m.PayFunc != nil {
		return m.PayFunc(ctx, orderID, userID)
	}
	return nil, errNotConfigured
}

// MockAccessService — мок для AccessService.
type MockAccessService struct {
	GrantFunc           func(ctx context.Context, req service.GrantRequest) (*service.GrantResult, error)
	ChangePlanFunc      func(ctx context.Context, req service.ChangePlanRequest) (*service.GrantResult, error)
	RevokeFunc          func(ctx context.Context, req service.RevokeRequest) error
	UpsertSubGrantsFunc func(ctx context.Context, accessID string, grants []domain.SubGrant, actor string) ([]domain.AccessTest, error)
	DeleteSubGrantFunc  func(ctx context.Context, testID, actor string) error
	ListMineFunc        func(ctx context.Context, userID string) ([]*domain.Access, error)
}

func (m *MockAccessService) Grant(ctx context.Context, req service.GrantRequest) (*service.GrantResult, error) {
	if m.GrantFunc != nil {
		return m.GrantFunc(ctx, req)
	}
	return nil, errNotConfigured
}

func (m *MockAccessService) ChangePlan(ctx context.Context, req service.ChangePlanRequest) (*service.GrantResult, error) {
	if m.ChangePlanFunc != nil {
		return m.ChangePlanFunc(ctx, req)
	}
	return nil, errNotConfigured
}

func (m *MockAccessService) Revoke(ctx context.Context, req service.RevokeRequest) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, req)
	}
	return errNotConfigured
}

func (m *MockAccessService) UpsertSubGrants(ctx context.Context, accessID string, grants []domain.SubGrant, actor string) ([]domain.AccessTest, error) {
	if m.UpsertSubGrantsFunc != nil {
		return m.UpsertSubGrantsFunc(ctx, accessID, grants, actor)
	}
	return nil, errNotConfigured
}

func (m *MockAccessService) DeleteSubGrant(ctx context.Context, testID, actor string) error {
	if m.DeleteSubGrantFunc != nil {
		return m.DeleteSubGrantFunc(ctx, testID, actor)
	}
	return errNotConfigured
}

func (m *MockAccessService) ListMine(ctx context.Context, userID string) ([]*domain.Access, error) {
	if m.ListMineFunc != nil {
		return m.ListMineFunc(ctx, userID)
	}
	return nil, errNotConfigured
}

// MockWebhookService — мок для WebhookService.
type MockWebhookService struct {
	HandleFunc func(ctx context.Context, token string, body []byte) (domain.WebhookOutcome, error)
}

func (m *MockWebhookService) HandleXenditInvoice(ctx context.Context, token string, body []byte) (domain.WebhookOutcome, error) {
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, token, body)
	}
	return "", errNotConfigured
}
