package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/middleware"
	"example.com/learning-commerce/services/commerce/internal/service"
)

const testIdempotencyKey = "6f1c2a9e-6b0d-4c8e-9a51-0e7a4b6c2d11"

// setupOrderRouter создаёт Gin router для тестов с установленным user_id.
func setupOrderRouter(h *OrderHandler, userID string) *gin.Engine {
	r := gin.New()

	// Имитация AuthMiddleware
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})

	r.POST("/orders", middleware.RequireIdempotencyKey(), h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/orders/:id/status", h.GetOrderStatus)
	r.POST("/orders/:id/payment", h.PayOrder)
	return r
}

func postJSON(t *testing.T, r http.Handler, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-idempotency-key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// =====================================
// Тесты CreateOrder
// =====================================

func TestCreateOrder_Success(t *testing.T) {
	var got service.CreateOrderRequest
	mock := &MockOrderService{
		CreateFunc: func(_ context.Context, req service.CreateOrderRequest) (*domain.OrderRef, error) {
			got = req
			return &domain.OrderRef{
				OrderID:       "ROORDER-20240110-01HM",
				InvoiceNumber: "INV-RO-20240110-1",
				Status:        domain.OrderStatusPending,
			}, nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(mock), "user-1")

	w := postJSON(t, r, "/orders", testIdempotencyKey, CreateOrderRequest{
		ProductID:      "sub-3m",
		ProductType:    "subscription",
		DiscountAmount: 10000,
		DiscountCode:   "HEMAT10",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ROORDER-20240110-01HM", resp.OrderID)
	assert.Equal(t, "INV-RO-20240110-1", resp.InvoiceNumber)
	assert.Equal(t, "pending", resp.Status)

	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, testIdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, "sub-3m", got.ProductID)
	assert.Equal(t, int64(10000), got.DiscountAmount)
	assert.Equal(t, "HEMAT10", got.DiscountCode)
}

func TestCreateOrder_ReplayReturnsSameOrder(t *testing.T) {
	mock := &MockOrderService{
		CreateFunc: func(context.Context, service.CreateOrderRequest) (*domain.OrderRef, error) {
			return &domain.OrderRef{OrderID: "ROORDER-20240110-01HM", Status: domain.OrderStatusPending, Replayed: true}, nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(mock), "user-1")

	w := postJSON(t, r, "/orders", testIdempotencyKey, CreateOrderRequest{ProductID: "sub-3m", ProductType: "subscription"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ROORDER-20240110-01HM")
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name           string
		key            string
		body           any
		serviceErr     error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "без ключа идемпотентности",
			key:            "",
			body:           CreateOrderRequest{ProductID: "sub-3m", ProductType: "subscription"},
			expectedStatus: http.StatusForbidden,
			expectedError:  "invalid_idempotency_key",
		},
		{
			name:           "без product_id",
			key:            testIdempotencyKey,
			body:           map[string]any{"product_type": "subscription"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_request",
		},
		{
			name:           "отрицательная скидка",
			key:            testIdempotencyKey,
			body:           map[string]any{"product_id": "sub-3m", "product_type": "subscription", "discount_amount": -1},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_request",
		},
		{
			name:           "активный доступ уже есть",
			key:            testIdempotencyKey,
			body:           CreateOrderRequest{ProductID: "sub-3m", ProductType: "subscription"},
			serviceErr:     domain.ErrActiveAccessExists,
			expectedStatus: http.StatusConflict,
			expectedError:  "active_access_exists",
		},
		{
			name:           "ключ чужого пользователя",
			key:            testIdempotencyKey,
			body:           CreateOrderRequest{ProductID: "sub-3m", ProductType: "subscription"},
			serviceErr:     domain.ErrIdempotencyKeyConflict,
			expectedStatus: http.StatusConflict,
			expectedError:  "idempotency_key_conflict",
		},
		{
			name:           "продукт не найден",
			key:            testIdempotencyKey,
			body:           CreateOrderRequest{ProductID: "missing", ProductType: "subscription"},
			serviceErr:     domain.ErrProductNotFound,
			expectedStatus: http.StatusNotFound,
			expectedError:  "product_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mock := &MockOrderService{
				CreateFunc: func(context.Context, service.CreateOrderRequest) (*domain.OrderRef, error) {
					called = true
					return nil, tt.serviceErr
				},
			}
			r := setupOrderRouter(NewOrderHandler(mock), "user-1")

			w := postJSON(t, r, "/orders", tt.key, tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
			assert.Equal(t, tt.serviceErr != nil, called)
		})
	}
}

func TestCreateOrder_NoUser(t *testing.T) {
	r := setupOrderRouter(NewOrderHandler(&MockOrderService{}), "")

	w := postJSON(t, r, "/orders", testIdempotencyKey, CreateOrderRequest{ProductID: "sub-3m", ProductType: "subscription"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =====================================
// Тесты GetOrder / GetOrderStatus
// =====================================

func TestGetOrder_Success(t *testing.T) {
	expiredAt := time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC)
	mock := &MockOrderService{
		GetFunc: func(_ context.Context, orderID, userID string) (*service.OrderDetail, error) {
			assert.Equal(t, "ROORDER-1", orderID)
			assert.Equal(t, "user-1", userID)
			return &service.OrderDetail{
				Order: &domain.Order{
					ID:            "ROORDER-1",
					UserID:        "user-1",
					InvoiceNumber: "INV-RO-20240110-1",
					Flow:          domain.FlowCheckout,
					Status:        domain.OrderStatusPending,
					TotalAmount:   100000,
					FinalAmount:   100000,
					ExpiredAt:     &expiredAt,
					Items: []domain.OrderItem{{
						ProductID: "sub-3m", ProductName: "Langganan 3 bulan",
						ProductType: domain.ProductTypeSubscription, Price: 100000, DurationMonths: 3, Quantity: 1,
					}},
					Transactions: []domain.Transaction{{
						ID: "ROTX-1", Gateway: domain.GatewayXendit, Status: domain.TransactionStatusPending, Amount: 100000,
					}},
				},
				Status:        domain.OrderStatusExpired,
				CustomerName:  "Siti",
				CustomerEmail: "siti@example.com",
			}, nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(mock), "user-1")

	w := get(r, "/orders/ROORDER-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "expired", resp.Status, "отдаётся эффективный статус")
	assert.Equal(t, "Siti", resp.Customer.Name)
	assert.Equal(t, "siti@example.com", resp.Customer.Email)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].DurationMonths)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "ROTX-1", resp.Transactions[0].ID)
	require.NotNil(t, resp.ExpiredAt)
	assert.True(t, expiredAt.Equal(*resp.ExpiredAt))
}

func TestGetOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"чужой заказ", domain.ErrOrderForbidden, http.StatusForbidden},
		{"нет заказа", domain.ErrOrderNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockOrderService{
				GetFunc: func(context.Context, string, string) (*service.OrderDetail, error) {
					return nil, tt.err
				},
			}
			r := setupOrderRouter(NewOrderHandler(mock), "user-2")

			assert.Equal(t, tt.expected, get(r, "/orders/ROORDER-1").Code)
		})
	}
}

func TestGetOrderStatus(t *testing.T) {
	mock := &MockOrderService{
		StatusFunc: func(context.Context, string, string) (domain.OrderStatus, error) {
			return domain.OrderStatusPaid, nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(mock), "user-1")

	w := get(r, "/orders/ROORDER-1/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"paid"}`, w.Body.String())
}

// =====================================
// Тесты PayOrder
// =====================================

func TestPayOrder_Success(t *testing.T) {
	expiredAt := time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC)
	mock := &MockOrderService{
		PayFunc: func(context.Context, string, string) (*service.PaymentLink, error) {
			return &service.PaymentLink{
				OrderID:       "ROORDER-1",
				TransactionID: "ROTX-1",
				InvoiceURL:    "https://checkout.xendit.co/web/inv-1",
				ExpiredAt:     expiredAt,
			}, nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(mock), "user-1")

	w := postJSON(t, r, "/orders/ROORDER-1/payment", "", struct{}{})

	require.Equal(t, http.StatusOK, w.Code)
	var resp PaymentLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.xendit.co/web/inv-1", resp.InvoiceURL)
	assert.Equal(t, "ROTX-1", resp.TransactionID)
}

func TestPayOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		code     string
	}{
		{"окно оплаты истекло", domain.ErrOrderExpired, http.StatusRequestTimeout, "order_expired"},
		{"заказ уже оплачен", domain.ErrOrderNotPending, http.StatusConflict, "order_not_pending"},
		{"счёт уже создаётся", domain.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
		{"шлюз недоступен", domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockOrderService{
				PayFunc: func(context.Context, string, string) (*service.PaymentLink, error) {
					return nil, tt.err
				},
			}
			r := setupOrderRouter(NewOrderHandler(mock), "user-1")

			w := postJSON(t, r, "/orders/ROORDER-1/payment", "", struct{}{})

			assert.Equal(t, tt.expected, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}
