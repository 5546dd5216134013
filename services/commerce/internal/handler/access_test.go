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

func setupAccessRouter(h *AccessHandler, userID string) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})

	r.GET("/accesses/me", h.ListMine)
	r.POST("/accesses", middleware.RequireIdempotencyKey(), h.Grant)
	r.PATCH("/accesses/plan", middleware.RequireIdempotencyKey(), h.ChangePlan)
	r.POST("/accesses/revoke", h.Revoke)
	r.POST("/accesses/tests", h.UpsertTests)
	r.DELETE("/accesses/tests/:id", h.DeleteTest)
	return r
}

func sampleAccess() *domain.Access {
	orderID := "ROORDER-1"
	return &domain.Access{
		ID:             "acc-1",
		UserID:         "user-1",
		Type:           domain.ProductTypeTryout,
		ProductID:      "tryout-3m",
		OrderID:        &orderID,
		Status:         domain.AccessStatusActive,
		IsActive:       true,
		StartedAt:      time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC),
		ExpiredAt:      time.Date(2024, 4, 10, 16, 59, 59, 0, time.UTC),
		DurationMonths: 3,
		Tests: []domain.AccessTest{
			{ID: "t-1", AccessID: "acc-1", InstitutionID: "ui", InstitutionName: "Universitas Indonesia"},
		},
	}
}

func TestGrantAccess_Success(t *testing.T) {
	var got service.GrantRequest
	mock := &MockAccessService{
		GrantFunc: func(_ context.Context, req service.GrantRequest) (*service.GrantResult, error) {
			got = req
			return &service.GrantResult{
				Order:  domain.OrderRef{OrderID: "ROORDER-1", InvoiceNumber: "INV-RO-20240110-1", Status: domain.OrderStatusPaid},
				Access: sampleAccess(),
			}, nil
		},
	}
	r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

	startedAt := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	w := postJSON(t, r, "/accesses", testIdempotencyKey, GrantAccessRequest{
		UserID:         "user-1",
		ProductID:      "tryout-3m",
		ProductType:    "tryout",
		DiscountAmount: 20000,
		StartedAt:      &startedAt,
		Tests:          []SubGrantRequest{{InstitutionID: "ui", InstitutionName: "Universitas Indonesia"}},
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp GrantAccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "paid", resp.Status)
	require.NotNil(t, resp.Access)
	assert.Equal(t, "acc-1", resp.Access.ID)
	require.Len(t, resp.Access.Tests, 1)
	assert.Equal(t, "ui", resp.Access.Tests[0].InstitutionID)

	assert.Equal(t, "admin-1", got.Actor)
	assert.Equal(t, testIdempotencyKey, got.IdempotencyKey)
	assert.True(t, startedAt.Equal(got.StartedAt))
	assert.Equal(t, []domain.SubGrant{{InstitutionID: "ui", InstitutionName: "Universitas Indonesia"}}, got.SubGrants)
}

func TestGrantAccess_Replay(t *testing.T) {
	mock := &MockAccessService{
		GrantFunc: func(context.Context, service.GrantRequest) (*service.GrantResult, error) {
			return &service.GrantResult{Order: domain.OrderRef{OrderID: "ROORDER-1", Status: domain.OrderStatusPaid, Replayed: true}}, nil
		},
	}
	r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

	w := postJSON(t, r, "/accesses", testIdempotencyKey, GrantAccessRequest{
		UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp GrantAccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Replayed)
	assert.Nil(t, resp.Access)
}

func TestGrantAccess_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		err      error
		expected int
	}{
		{"без user_id", map[string]any{"product_id": "sub-1m", "product_type": "subscription"}, nil, http.StatusBadRequest},
		{"тест без учреждения", map[string]any{
			"user_id": "user-1", "product_id": "tryout-1m", "product_type": "tryout",
			"tests": []map[string]any{{"institution_name": "UI"}},
		}, nil, http.StatusBadRequest},
		{"вебинар нельзя выдать", GrantAccessRequest{UserID: "user-1", ProductID: "webinar-1", ProductType: "webinar"}, domain.ErrProductNotEligible, http.StatusConflict},
		{"неизвестный тип", GrantAccessRequest{UserID: "user-1", ProductID: "x", ProductType: "bundle"}, domain.ErrInvalidProductType, http.StatusBadRequest},
		{"нет пользователя", GrantAccessRequest{UserID: "ghost", ProductID: "sub-1m", ProductType: "subscription"}, domain.ErrUserNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockAccessService{
				GrantFunc: func(context.Context, service.GrantRequest) (*service.GrantResult, error) {
					return nil, tt.err
				},
			}
			r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

			w := postJSON(t, r, "/accesses", testIdempotencyKey, tt.body)

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestChangePlan(t *testing.T) {
	t.Run("успех", func(t *testing.T) {
		var got service.ChangePlanRequest
		mock := &MockAccessService{
			ChangePlanFunc: func(_ context.Context, req service.ChangePlanRequest) (*service.GrantResult, error) {
				got = req
				return &service.GrantResult{
					Order:  domain.OrderRef{OrderID: "ROORDER-2", Status: domain.OrderStatusPaid},
					Access: sampleAccess(),
				}, nil
			},
		}
		r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

		raw, _ := json.Marshal(ChangePlanRequest{AccessID: "acc-0", ProductID: "tryout-3m", ProductType: "tryout"})
		req := httptest.NewRequest(http.MethodPatch, "/accesses/plan", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-idempotency-key", testIdempotencyKey)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "acc-0", got.AccessID)
		assert.Equal(t, "admin-1", got.Actor)
	})

	t.Run("другой тип тарифа", func(t *testing.T) {
		mock := &MockAccessService{
			ChangePlanFunc: func(context.Context, service.ChangePlanRequest) (*service.GrantResult, error) {
				return nil, domain.ErrPlanTypeMismatch
			},
		}
		r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

		raw, _ := json.Marshal(ChangePlanRequest{AccessID: "acc-0", ProductID: "sub-3m", ProductType: "subscription"})
		req := httptest.NewRequest(http.MethodPatch, "/accesses/plan", bytes.NewReader(raw))
		req.Header.Set("x-idempotency-key", testIdempotencyKey)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "plan_type_mismatch")
	})
}

func TestRevokeAccess(t *testing.T) {
	t.Run("успех", func(t *testing.T) {
		var got service.RevokeRequest
		mock := &MockAccessService{
			RevokeFunc: func(_ context.Context, req service.RevokeRequest) error {
				got = req
				return nil
			},
		}
		r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

		w := postJSON(t, r, "/accesses/revoke", "", RevokeAccessRequest{AccessID: "acc-1", Reason: "refund"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.RevokeRequest{AccessID: "acc-1", Reason: "refund", Actor: "admin-1"}, got)
		assert.Contains(t, w.Body.String(), "revoked")
	})

	t.Run("повторный отзыв", func(t *testing.T) {
		mock := &MockAccessService{
			RevokeFunc: func(context.Context, service.RevokeRequest) error { return domain.ErrAccessNotActive },
		}
		r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

		w := postJSON(t, r, "/accesses/revoke", "", RevokeAccessRequest{AccessID: "acc-1"})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "access_not_active")
	})
}

func TestUpsertTests(t *testing.T) {
	t.Run("успех", func(t *testing.T) {
		mock := &MockAccessService{
			UpsertSubGrantsFunc: func(_ context.Context, accessID string, grants []domain.SubGrant, actor string) ([]domain.AccessTest, error) {
				assert.Equal(t, "acc-1", accessID)
				assert.Equal(t, "admin-1", actor)
				require.Len(t, grants, 2)
				return []domain.AccessTest{
					{ID: "t-1", InstitutionID: "ui", InstitutionName: "UI"},
					{ID: "t-2", InstitutionID: "itb", InstitutionName: "ITB"},
				}, nil
			},
		}
		r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

		w := postJSON(t, r, "/accesses/tests", "", UpsertTestsRequest{
			AccessID: "acc-1",
			Tests: []SubGrantRequest{
				{InstitutionID: "ui", InstitutionName: "UI"},
				{InstitutionID: "itb", InstitutionName: "ITB"},
			},
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"institution_id":"itb"`)
	})

	t.Run("пустой список", func(t *testing.T) {
		r := setupAccessRouter(NewAccessHandler(&MockAccessService{}), "admin-1")

		w := postJSON(t, r, "/accesses/tests", "", UpsertTestsRequest{AccessID: "acc-1"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteTest(t *testing.T) {
	mock := &MockAccessService{
		DeleteSubGrantFunc: func(_ context.Context, testID, _ string) error {
			if testID == "missing" {
				return domain.ErrAccessTestNotFound
			}
			return nil
		},
	}
	r := setupAccessRouter(NewAccessHandler(mock), "admin-1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/accesses/tests/t-1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/accesses/tests/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMyAccesses(t *testing.T) {
	mock := &MockAccessService{
		ListMineFunc: func(_ context.Context, userID string) ([]*domain.Access, error) {
			assert.Equal(t, "user-1", userID)
			expired := sampleAccess()
			expired.ID = "acc-2"
			expired.Status = domain.AccessStatusExpired
			expired.IsActive = false
			return []*domain.Access{sampleAccess(), expired}, nil
		},
	}
	r := setupAccessRouter(NewAccessHandler(mock), "user-1")

	w := get(r, "/accesses/me")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Accesses []AccessResponse `json:"accesses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Accesses, 2)
	assert.Equal(t, "active", resp.Accesses[0].Status)
	assert.Equal(t, "expired", resp.Accesses[1].Status)
	assert.False(t, resp.Accesses[1].IsActive)
}
