package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/service"
)

// AccessHandler — выдача, смена тарифа и отзыв доступов.
type AccessHandler struct {
	accessService AccessService
}

// NewAccessHandler создаёт обработчик доступов.
func NewAccessHandler(accessService AccessService) *AccessHandler {
	return &AccessHandler{accessService: accessService}
}

// === Request/Response DTOs ===

// SubGrantRequest — доступ к тестам учреждения.
type SubGrantRequest struct {
	InstitutionID   string `json:"institution_id" binding:"required"`
	InstitutionName string `json:"institution_name" binding:"required"`
}

// GrantAccessRequest — выдача доступа администратором.
type GrantAccessRequest struct {
	UserID         string            `json:"user_id" binding:"required"`
	ProductID      string            `json:"product_id" binding:"required"`
	ProductType    string            `json:"product_type" binding:"required"`
	DiscountAmount int64             `json:"discount_amount" binding:"min=0"`
	DiscountCode   string            `json:"discount_code" binding:"max=64"`
	StartedAt      *time.Time        `json:"started_at"`
	Tests          []SubGrantRequest `json:"tests" binding:"omitempty,dive"`
}

// ChangePlanRequest — замена доступа новым тарифом того же типа.
type ChangePlanRequest struct {
	AccessID       string `json:"access_id" binding:"required"`
	ProductID      string `json:"product_id" binding:"required"`
	ProductType    string `json:"product_type" binding:"required"`
	DiscountAmount int64  `json:"discount_amount" binding:"min=0"`
	DiscountCode   string `json:"discount_code" binding:"max=64"`
}

// RevokeAccessRequest — отзыв доступа. Пустая причина заменяется стандартной.
type RevokeAccessRequest struct {
	AccessID string `json:"access_id" binding:"required"`
	Reason   string `json:"reason" binding:"max=255"`
}

// UpsertTestsRequest — добавление или переименование доступов к тестам.
type UpsertTestsRequest struct {
	AccessID string            `json:"access_id" binding:"required"`
	Tests    []SubGrantRequest `json:"tests" binding:"required,min=1,dive"`
}

// GrantAccessResponse — заказ и выданный доступ. При повторе по ключу access отсутствует.
type GrantAccessResponse struct {
	OrderID       string          `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Status        string          `json:"status"`
	Replayed      bool            `json:"replayed"`
	Access        *AccessResponse `json:"access,omitempty"`
}

// AccessResponse — доступ в ответе.
type AccessResponse struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	Type           string               `json:"type"`
	ProductID      string               `json:"product_id"`
	OrderID        *string              `json:"order_id,omitempty"`
	Status         string               `json:"status"`
	IsActive       bool                 `json:"is_active"`
	StartedAt      time.Time            `json:"started_at"`
	ExpiredAt      time.Time            `json:"expired_at"`
	DurationMonths int                  `json:"duration_months"`
	UpdateReason   string               `json:"update_reason,omitempty"`
	Tests          []AccessTestResponse `json:"tests"`
}

// AccessTestResponse — доступ к тестам учреждения в ответе.
type AccessTestResponse struct {
	ID              string `json:"id"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
}

// === Handlers ===

// Grant выдаёт доступ от имени администратора. Заказ сразу оплачен.
// POST /accesses
func (h *AccessHandler) Grant(c *gin.Context) {
	actor, ok := userID(c)
	if !ok {
		return
	}

	var req GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err, "GrantAccess")
		return
	}

	in := service.GrantRequest{
		Actor:          actor,
		IdempotencyKey: idempotencyKey(c),
		UserID:         req.UserID,
		ProductID:      req.ProductID,
		ProductType:    req.ProductType,
		DiscountAmount: req.DiscountAmount,
		DiscountCode:   req.DiscountCode,
		SubGrants:      toSubGrants(req.Tests),
	}
	if req.StartedAt != nil {
		in.StartedAt = *req.StartedAt
	}

	result, err := h.accessService.Grant(c.Request.Context(), in)
	if err != nil {
		HandleError(c, err, "GrantAccess")
		return
	}

	h.respondGrant(c, result)
}

// ChangePlan заменяет доступ новым тарифом, сохраняя дату начала.
// PATCH /accesses/plan
func (h *AccessHandler) ChangePlan(c *gin.Context) {
	actor, ok := userID(c)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err, "ChangePlan")
		return
	}

	result, err := h.accessService.ChangePlan(c.Request.Context(), service.ChangePlanRequest{
		Actor:          actor,
		IdempotencyKey: idempotencyKey(c),
		AccessID:       req.AccessID,
		ProductID:      req.ProductID,
		ProductType:    req.ProductType,
		DiscountAmount: req.DiscountAmount,
		DiscountCode:   req.DiscountCode,
	})
	if err != nil {
		HandleError(c, err, "ChangePlan")
		return
	}

	h.respondGrant(c, result)
}

// Revoke отзывает активный доступ.
// POST /accesses/revoke
func (h *AccessHandler) Revoke(c *gin.Context) {
	actor, ok := userID(c)
	if !ok {
		return
	}

	var req RevokeAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err, "RevokeAccess")
		return
	}

	err := h.accessService.Revoke(c.Request.Context(), service.RevokeRequest{
		AccessID: req.AccessID,
		Reason:   req.Reason,
		Actor:    actor,
	})
	if err != nil {
		HandleError(c, err, "RevokeAccess")
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_id": req.AccessID, "status": string(domain.AccessStatusRevoked)})
}

// UpsertTests добавляет доступы к тестам учреждений.
// POST /accesses/tests
func (h *AccessHandler) UpsertTests(c *gin.Context) {
	actor, ok := userID(c)
	if !ok {
		return
	}

	var req UpsertTestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err, "UpsertTests")
		return
	}

	tests, err := h.accessService.UpsertSubGrants(c.Request.Context(), req.AccessID, toSubGrants(req.Tests), actor)
	if err != nil {
		HandleError(c, err, "UpsertTests")
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_id": req.AccessID, "tests": toAccessTests(tests)})
}

// DeleteTest удаляет доступ к тестам учреждения.
// DELETE /accesses/tests/:id
func (h *AccessHandler) DeleteTest(c *gin.Context) {
	actor, ok := userID(c)
	if !ok {
		return
	}

	if err := h.accessService.DeleteSubGrant(c.Request.Context(), c.Param("id"), actor); err != nil {
		HandleError(c, err, "DeleteTest")
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMine возвращает доступы текущего пользователя.
// GET /accesses/me
func (h *AccessHandler) ListMine(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	accesses, err := h.accessService.ListMine(c.Request.Context(), uid)
	if err != nil {
		HandleError(c, err, "ListMyAccesses")
		return
	}

	items := make([]AccessResponse, 0, len(accesses))
	for _, a := range accesses {
		items = append(items, toAccessResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"accesses": items})
}

func (h *AccessHandler) respondGrant(c *gin.Context, result *service.GrantResult) {
	resp := GrantAccessResponse{
		OrderID:       result.Order.OrderID,
		InvoiceNumber: result.Order.InvoiceNumber,
		Status:        string(result.Order.Status),
		Replayed:      result.Order.Replayed,
	}
	status := http.StatusOK
	if result.Access != nil {
		a := toAccessResponse(result.Access)
		resp.Access = &a
		status = http.StatusCreated
	}

	logger.Ctx(c.Request.Context()).Info().
		Str("order_id", resp.OrderID).
		Bool("replayed", resp.Replayed).
		Msg("Доступ оформлен через админский API")

	c.JSON(status, resp)
}

func toSubGrants(in []SubGrantRequest) []domain.SubGrant {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.SubGrant, len(in))
	for i, g := range in {
		out[i] = domain.SubGrant{InstitutionID: g.InstitutionID, InstitutionName: g.InstitutionName}
	}
	return out
}

func toAccessTests(tests []domain.AccessTest) []AccessTestResponse {
	out := make([]AccessTestResponse, 0, len(tests))
	for _, t := range tests {
		out = append(out, AccessTestResponse{
			ID:              t.ID,
			InstitutionID:   t.InstitutionID,
			InstitutionName: t.InstitutionName,
		})
	}
	return out
}

// toAccessResponse переносит статус как есть: ListMine уже подставил
// эффективный статус для истёкших доступов.
func toAccessResponse(a *domain.Access) AccessResponse {
	return AccessResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Type:           string(a.Type),
		ProductID:      a.ProductID,
		OrderID:        a.OrderID,
		Status:         string(a.Status),
		IsActive:       a.IsActive,
		StartedAt:      a.StartedAt,
		ExpiredAt:      a.ExpiredAt,
		DurationMonths: a.DurationMonths,
		UpdateReason:   a.UpdateReason,
		Tests:          toAccessTests(a.Tests),
	}
}
