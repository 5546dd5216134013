// Package handler содержит HTTP обработчики REST API commerce.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/service"
)

// OrderHandler — обработчик заказов.
type OrderHandler struct {
	orderService OrderService
}

// NewOrderHandler создаёт новый обработчик заказов.
func NewOrderHandler(orderService OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// === Request/Response DTOs ===

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	ProductID      string `json:"product_id" binding:"required"`
	ProductType    string `json:"product_type" binding:"required"`
	DiscountAmount int64  `json:"discount_amount" binding:"min=0"`
	DiscountCode   string `json:"discount_code" binding:"max=64"`
}

// CreateOrderResponse — ответ на создание заказа. Повтор с тем же ключом
// возвращает тот же order_id.
type CreateOrderResponse struct {
	OrderID       string `json:"order_id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
}

// OrderResponse — заказ с расшифрованными контактами покупателя.
type OrderResponse struct {
	ID             string                `json:"id"`
	UserID         string                `json:"user_id"`
	InvoiceNumber  string                `json:"invoice_number"`
	Flow           string                `json:"flow"`
	Status         string                `json:"status"`
	TotalAmount    int64                 `json:"total_amount"`
	DiscountAmount int64                 `json:"discount_amount"`
	FinalAmount    int64                 `json:"final_amount"`
	PaidAmount     int64                 `json:"paid_amount"`
	DiscountCode   string                `json:"discount_code,omitempty"`
	ExpiredAt      *time.Time            `json:"expired_at,omitempty"`
	PaidAt         *time.Time            `json:"paid_at,omitempty"`
	Customer       CustomerResponse      `json:"customer"`
	Items          []OrderItemResponse   `json:"items"`
	Transactions   []TransactionResponse `json:"transactions"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// CustomerResponse — контакты покупателя на момент заказа.
type CustomerResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductType    string `json:"product_type"`
	Price          int64  `json:"price"`
	DurationMonths int    `json:"duration_months,omitempty"`
	Quantity       int    `json:"quantity"`
}

// TransactionResponse — попытка оплаты в ответе.
type TransactionResponse struct {
	ID         string     `json:"id"`
	Gateway    string     `json:"gateway"`
	Status     string     `json:"status"`
	Amount     int64      `json:"amount"`
	InvoiceURL string     `json:"invoice_url,omitempty"`
	Method     string     `json:"method,omitempty"`
	Channel    string     `json:"channel,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
}

// OrderStatusResponse — ответ polling endpoint.
type OrderStatusResponse struct {
	Status string `json:"status"`
}

// PaymentLinkResponse — ссылка на оплату.
type PaymentLinkResponse struct {
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	InvoiceURL    string    `json:"invoice_url"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// === Handlers ===

// CreateOrder создаёт новый заказ.
// POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	uid, ok := userID(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err, "CreateOrder")
		return
	}

	ref, err := h.orderService.Create(ctx, service.CreateOrderRequest{
		UserID:         uid,
		IdempotencyKey: idempotencyKey(c),
		ProductID:      req.ProductID,
		ProductType:    req.ProductType,
		DiscountAmount: req.DiscountAmount,
		DiscountCode:   req.DiscountCode,
	})
	if err != nil {
		HandleError(c, err, "CreateOrder")
		return
	}

	status := http.StatusCreated
	if ref.Replayed {
		status = http.StatusOK
	}

	log.Info().
		Str("order_id", ref.OrderID).
		Bool("replayed", ref.Replayed).
		Msg("Заказ создан через API")

	c.JSON(status, CreateOrderResponse{
		OrderID:       ref.OrderID,
		InvoiceNumber: ref.InvoiceNumber,
		Status:        string(ref.Status),
	})
}

// GetOrder возвращает заказ владельцу.
// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	detail, err := h.orderService.Get(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(detail))
}

// GetOrderStatus — дешёвый polling статуса.
// GET /orders/:id/status
func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	status, err := h.orderService.Status(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		HandleError(c, err, "GetOrderStatus")
		return
	}

	c.JSON(http.StatusOK, OrderStatusResponse{Status: string(status)})
}

// PayOrder возвращает ссылку на оплату, создавая счёт в Xendit при необходимости.
// POST /orders/:id/payment
func (h *OrderHandler) PayOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	link, err := h.orderService.Pay(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		HandleError(c, err, "PayOrder")
		return
	}

	c.JSON(http.StatusOK, PaymentLinkResponse{
		OrderID:       link.OrderID,
		TransactionID: link.TransactionID,
		InvoiceURL:    link.InvoiceURL,
		ExpiredAt:     link.ExpiredAt,
	})
}

func toOrderResponse(d *service.OrderDetail) OrderResponse {
	o := d.Order
	resp := OrderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		InvoiceNumber:  o.InvoiceNumber,
		Flow:           string(o.Flow),
		Status:         string(d.Status),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		PaidAmount:     o.PaidAmount,
		DiscountCode:   o.DiscountCode,
		ExpiredAt:      o.ExpiredAt,
		PaidAt:         o.PaidAt,
		Customer: CustomerResponse{
			Name:  d.CustomerName,
			Email: d.CustomerEmail,
			Phone: d.CustomerPhone,
		},
		Items:        make([]OrderItemResponse, 0, len(o.Items)),
		Transactions: make([]TransactionResponse, 0, len(o.Transactions)),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}

	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			ProductType:    string(it.ProductType),
			Price:          it.Price,
			DurationMonths: it.DurationMonths,
			Quantity:       it.Quantity,
		})
	}
	for _, tx := range o.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	return resp
}

func toTransactionResponse(tx domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:         tx.ID,
		Gateway:    tx.Gateway,
		Status:     string(tx.Status),
		Amount:     tx.Amount,
		InvoiceURL: tx.InvoiceURL,
		Method:     tx.Method,
		Channel:    tx.Channel,
		PaidAt:     tx.PaidAt,
	}
}
