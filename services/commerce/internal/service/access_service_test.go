package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
	"example.com/learning-commerce/services/commerce/internal/service"
	"example.com/learning-commerce/services/commerce/internal/testutil"
)

func TestAccessService_Grant_PaidWithDiscount(t *testing.T) {
	env := newTestEnv(t)

	res := env.grant(t, service.GrantRequest{
		UserID:         "user-1",
		ProductID:      "sub-3m",
		ProductType:    "subscription",
		DiscountAmount: 20000,
		DiscountCode:   "PROMO20",
	})

	assert.Equal(t, domain.OrderStatusPaid, res.Order.Status)
	assert.Equal(t, "INV-RO-20240110-1", res.Order.InvoiceNumber)

	order := env.loadOrder(t, res.Order.OrderID)
	assert.Equal(t, domain.FlowAdminGrant, order.Flow)
	assert.EqualValues(t, 100000, order.TotalAmount)
	assert.EqualValues(t, 20000, order.DiscountAmount)
	assert.EqualValues(t, 80000, order.FinalAmount)
	assert.EqualValues(t, 80000, order.PaidAmount)
	assert.Equal(t, "PROMO20", order.DiscountCode)
	assert.Equal(t, "admin-1", order.CreatedBy)
	require.Len(t, order.Transactions, 1)
	assert.Equal(t, domain.GatewayManual, order.Transactions[0].Gateway)
	assert.Equal(t, domain.TransactionStatusSuccess, order.Transactions[0].Status)

	require.NotNil(t, res.Access)
	access := env.loadAccess(t, res.Access.ID)
	assert.Equal(t, domain.AccessStatusActive, access.Status)
	assert.True(t, access.IsActive)
	require.NotNil(t, access.OrderID)
	assert.Equal(t, order.ID, *access.OrderID)
	assert.Equal(t, 3, access.DurationMonths)
	// 10 января 23:59:59 по Джакарте + 3 месяца
	assert.True(t, time.Date(2024, 4, 10, 16, 59, 59, 0, time.UTC).Equal(access.ExpiredAt), access.ExpiredAt)

	assert.Equal(t, []events.Type{events.AccessGranted}, env.notifier.types())
}

func TestAccessService_Grant_UserTimezoneFallback(t *testing.T) {
	env := newTestEnv(t)

	// user-2 без часового пояса: срок считается в бизнес-поясе
	res := env.grant(t, service.GrantRequest{UserID: "user-2", ProductID: "sub-1m", ProductType: "subscription"})
	assert.True(t, time.Date(2024, 2, 10, 16, 59, 59, 0, time.UTC).Equal(res.Access.ExpiredAt), res.Access.ExpiredAt)
}

func TestAccessService_Grant_TryoutSubGrants(t *testing.T) {
	env := newTestEnv(t)

	res := env.grant(t, service.GrantRequest{
		UserID:      "user-1",
		ProductID:   "tryout-1m",
		ProductType: "tryout",
		SubGrants: []domain.SubGrant{
			{InstitutionID: "ui", InstitutionName: "Universitas Indonesia"},
			{InstitutionID: "itb", InstitutionName: "ITB"},
			{InstitutionID: "ui", InstitutionName: "UI"},
		},
	})

	access := env.loadAccess(t, res.Access.ID)
	require.Len(t, access.Tests, 2)
	names := map[string]string{}
	for _, tst := range access.Tests {
		names[tst.InstitutionID] = tst.InstitutionName
	}
	assert.Equal(t, map[string]string{"ui": "UI", "itb": "ITB"}, names)
}

func TestAccessService_Grant_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, service.GrantRequest{UserID: "user-2", ProductID: "sub-1m", ProductType: "subscription"})

	tests := []struct {
		name    string
		req     service.GrantRequest
		wantErr error
	}{
		{
			name:    "вебинар не выдаёт доступ",
			req:     service.GrantRequest{UserID: "user-1", ProductID: "webinar-1", ProductType: "webinar"},
			wantErr: domain.ErrProductNotEligible,
		},
		{
			name: "доступы к тестам для подписки",
			req: service.GrantRequest{
				UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription",
				SubGrants: []domain.SubGrant{{InstitutionID: "ui"}},
			},
			wantErr: domain.ErrSubGrantsNotSupported,
		},
		{
			name: "учреждение без ID",
			req: service.GrantRequest{
				UserID: "user-1", ProductID: "tryout-1m", ProductType: "tryout",
				SubGrants: []domain.SubGrant{{InstitutionName: "Без ID"}},
			},
			wantErr: domain.ErrInvalidSubGrant,
		},
		{
			name:    "активный доступ того же типа",
			req:     service.GrantRequest{UserID: "user-2", ProductID: "sub-3m", ProductType: "subscription"},
			wantErr: domain.ErrActiveAccessExists,
		},
		{
			name:    "неизвестный пользователь",
			req:     service.GrantRequest{UserID: "ghost", ProductID: "sub-3m", ProductType: "subscription"},
			wantErr: domain.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.IdempotencyKey = newKey()
			tt.req.Actor = "admin-1"
			_, err := env.accesses.Grant(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.EqualValues(t, 1, testutil.CountRows(t, env.db, &repository.OrderModel{}, ""))
}

func TestAccessService_Grant_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	req := service.GrantRequest{
		Actor: "admin-1", IdempotencyKey: newKey(), UserID: "user-1", ProductID: "sub-3m", ProductType: "subscription",
	}

	first, err := env.accesses.Grant(context.Background(), req)
	require.NoError(t, err)

	second, err := env.accesses.Grant(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Order.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.EqualValues(t, 1, env.activeAccesses(t, "user-1", domain.ProductTypeSubscription))
}

func TestAccessService_ChangePlan_KeepsStartedAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})

	env.clock.Advance(20 * 24 * time.Hour)
	res, err := env.accesses.ChangePlan(ctx, service.ChangePlanRequest{
		Actor:          "admin-1",
		IdempotencyKey: newKey(),
		AccessID:       old.Access.ID,
		ProductID:      "sub-3m",
		ProductType:    "subscription",
	})
	require.NoError(t, err)

	t.Run("старый доступ отозван", func(t *testing.T) {
		prev := env.loadAccess(t, old.Access.ID)
		assert.Equal(t, domain.AccessStatusRevoked, prev.Status)
		assert.False(t, prev.IsActive)
		assert.Equal(t, domain.ReasonPlanChange, prev.UpdateReason)

		logs, err := env.store.Accesses().ListRevokeLogs(ctx, old.Access.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, domain.ReasonPlanChange, logs[0].Reason)
		assert.Equal(t, "admin-1", logs[0].RevokedBy)
	})

	t.Run("старый заказ заменён", func(t *testing.T) {
		assert.Equal(t, domain.OrderStatusReplaced, env.loadOrder(t, old.Order.OrderID).Status)
	})

	t.Run("новый доступ от исходной даты", func(t *testing.T) {
		access := env.loadAccess(t, res.Access.ID)
		assert.Equal(t, domain.AccessStatusActive, access.Status)
		assert.True(t, testStart.Equal(access.StartedAt), access.StartedAt)
		assert.True(t, time.Date(2024, 4, 10, 16, 59, 59, 0, time.UTC).Equal(access.ExpiredAt), access.ExpiredAt)

		order := env.loadOrder(t, res.Order.OrderID)
		assert.Equal(t, domain.FlowPlanChange, order.Flow)
		assert.Equal(t, domain.OrderStatusPaid, order.Status)
		require.NotNil(t, order.ReplacesAccessID)
		assert.Equal(t, old.Access.ID, *order.ReplacesAccessID)
	})

	assert.EqualValues(t, 1, env.activeAccesses(t, "user-1", domain.ProductTypeSubscription))

	changed := env.notifier.last(events.PlanChanged)
	require.NotNil(t, changed)
	assert.Equal(t, old.Access.ID, changed.Data["old_access_id"])
	assert.Equal(t, res.Access.ID, changed.AccessID)
}

func TestAccessService_ChangePlan_CopiesSubGrants(t *testing.T) {
	env := newTestEnv(t)

	old := env.grant(t, service.GrantRequest{
		UserID: "user-1", ProductID: "tryout-1m", ProductType: "tryout",
		SubGrants: []domain.SubGrant{{InstitutionID: "ui", InstitutionName: "UI"}, {InstitutionID: "itb", InstitutionName: "ITB"}},
	})

	res, err := env.accesses.ChangePlan(context.Background(), service.ChangePlanRequest{
		Actor: "admin-1", IdempotencyKey: newKey(), AccessID: old.Access.ID, ProductID: "tryout-3m", ProductType: "tryout",
	})
	require.NoError(t, err)

	access := env.loadAccess(t, res.Access.ID)
	require.Len(t, access.Tests, 2)
	assert.ElementsMatch(t, []string{"ui", "itb"}, []string{access.Tests[0].InstitutionID, access.Tests[1].InstitutionID})
	assert.NotEqual(t, old.Access.Tests[0].ID, access.Tests[0].ID, "доступы к тестам копируются, а не переносятся")
}

func TestAccessService_ChangePlan_FailureLeavesOldAccessActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})
	revoked := env.grant(t, service.GrantRequest{UserID: "user-2", ProductID: "sub-1m", ProductType: "subscription"})
	require.NoError(t, env.accesses.Revoke(ctx, service.RevokeRequest{AccessID: revoked.Access.ID, Actor: "admin-1"}))

	tests := []struct {
		name    string
		req     service.ChangePlanRequest
		wantErr error
	}{
		{
			name:    "другой тип продукта",
			req:     service.ChangePlanRequest{AccessID: old.Access.ID, ProductID: "tryout-1m", ProductType: "tryout"},
			wantErr: domain.ErrPlanTypeMismatch,
		},
		{
			name:    "продукт без доступа",
			req:     service.ChangePlanRequest{AccessID: old.Access.ID, ProductID: "webinar-1", ProductType: "webinar"},
			wantErr: domain.ErrProductNotEligible,
		},
		{
			name:    "доступ не найден",
			req:     service.ChangePlanRequest{AccessID: "missing", ProductID: "sub-3m", ProductType: "subscription"},
			wantErr: domain.ErrAccessNotFound,
		},
		{
			name:    "доступ уже отозван",
			req:     service.ChangePlanRequest{AccessID: revoked.Access.ID, ProductID: "sub-3m", ProductType: "subscription"},
			wantErr: domain.ErrAccessNotActive,
		},
		{
			name: "скидка больше цены",
			req: service.ChangePlanRequest{
				AccessID: old.Access.ID, ProductID: "sub-3m", ProductType: "subscription", DiscountAmount: 200000,
			},
			wantErr: domain.ErrInvalidDiscount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Actor = "admin-1"
			tt.req.IdempotencyKey = newKey()
			_, err := env.accesses.ChangePlan(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	prev := env.loadAccess(t, old.Access.ID)
	assert.Equal(t, domain.AccessStatusActive, prev.Status, "после ошибки старый доступ остаётся активным")
	assert.Equal(t, domain.OrderStatusPaid, env.loadOrder(t, old.Order.OrderID).Status)
	assert.Zero(t, testutil.CountRows(t, env.db, &repository.OrderModel{}, "flow = ?", string(domain.FlowPlanChange)))

	logs, err := env.store.Accesses().ListRevokeLogs(ctx, old.Access.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAccessService_ChangePlan_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})
	req := service.ChangePlanRequest{
		Actor: "admin-1", IdempotencyKey: newKey(), AccessID: old.Access.ID, ProductID: "sub-3m", ProductType: "subscription",
	}

	first, err := env.accesses.ChangePlan(ctx, req)
	require.NoError(t, err)

	second, err := env.accesses.ChangePlan(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Order.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)

	t.Run("ключ от другой операции", func(t *testing.T) {
		other := req
		other.AccessID = first.Access.ID
		_, err := env.accesses.ChangePlan(ctx, other)
		assert.ErrorIs(t, err, domain.ErrIdempotencyKeyConflict)
	})
}

func TestAccessService_Revoke_IsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-3m", ProductType: "subscription"})

	require.NoError(t, env.accesses.Revoke(ctx, service.RevokeRequest{
		AccessID: res.Access.ID, Reason: "refund", Actor: "admin-1",
	}))

	err := env.accesses.Revoke(ctx, service.RevokeRequest{AccessID: res.Access.ID, Reason: "again", Actor: "admin-1"})
	require.ErrorIs(t, err, domain.ErrAccessNotActive)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	access := env.loadAccess(t, res.Access.ID)
	assert.Equal(t, domain.AccessStatusRevoked, access.Status)
	assert.Equal(t, "refund", access.UpdateReason)

	logs, err := env.store.Accesses().ListRevokeLogs(ctx, res.Access.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	revoked := env.notifier.last(events.AccessRevoked)
	require.NotNil(t, revoked)
	assert.Equal(t, "refund", revoked.Data["reason"])
	assert.NotEmpty(t, revoked.RecipientEnc, "получатель берётся из заказа доступа")

	// После отзыва можно выдать новый доступ того же типа
	env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})
}

func TestAccessService_Revoke_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})

	t.Run("не найден", func(t *testing.T) {
		err := env.accesses.Revoke(ctx, service.RevokeRequest{AccessID: "missing", Actor: "admin-1"})
		assert.ErrorIs(t, err, domain.ErrAccessNotFound)
	})

	t.Run("истёк по времени", func(t *testing.T) {
		env.clock.Advance(60 * 24 * time.Hour)
		err := env.accesses.Revoke(ctx, service.RevokeRequest{AccessID: res.Access.ID, Actor: "admin-1"})
		assert.ErrorIs(t, err, domain.ErrAccessNotActive)
	})
}

func TestAccessService_SubGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.grant(t, service.GrantRequest{
		UserID: "user-1", ProductID: "tryout-1m", ProductType: "tryout",
		SubGrants: []domain.SubGrant{{InstitutionID: "ui", InstitutionName: "UI"}},
	})

	tests, err := env.accesses.UpsertSubGrants(ctx, res.Access.ID, []domain.SubGrant{
		{InstitutionID: "ui", InstitutionName: "Universitas Indonesia"},
		{InstitutionID: "ugm", InstitutionName: "UGM"},
	}, "admin-1")
	require.NoError(t, err)
	require.Len(t, tests, 2)

	access := env.loadAccess(t, res.Access.ID)
	require.Len(t, access.Tests, 2)
	byID := map[string]domain.AccessTest{}
	for _, tst := range access.Tests {
		byID[tst.InstitutionID] = tst
	}
	assert.Equal(t, "Universitas Indonesia", byID["ui"].InstitutionName)
	assert.Equal(t, res.Access.Tests[0].ID, byID["ui"].ID, "upsert сохраняет строку")

	t.Run("неуказанные строки не удаляются", func(t *testing.T) {
		_, err := env.accesses.UpsertSubGrants(ctx, res.Access.ID, []domain.SubGrant{{InstitutionID: "itb", InstitutionName: "ITB"}}, "admin-1")
		require.NoError(t, err)
		assert.Len(t, env.loadAccess(t, res.Access.ID).Tests, 3)
	})

	t.Run("явное удаление", func(t *testing.T) {
		require.NoError(t, env.accesses.DeleteSubGrant(ctx, byID["ugm"].ID, "admin-1"))
		assert.Len(t, env.loadAccess(t, res.Access.ID).Tests, 2)

		err := env.accesses.DeleteSubGrant(ctx, byID["ugm"].ID, "admin-1")
		assert.ErrorIs(t, err, domain.ErrAccessTestNotFound)
	})

	t.Run("подписка без доступов к тестам", func(t *testing.T) {
		sub := env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})
		_, err := env.accesses.UpsertSubGrants(ctx, sub.Access.ID, []domain.SubGrant{{InstitutionID: "ui"}}, "admin-1")
		assert.ErrorIs(t, err, domain.ErrSubGrantsNotSupported)
	})

	t.Run("пустой список", func(t *testing.T) {
		_, err := env.accesses.UpsertSubGrants(ctx, res.Access.ID, nil, "admin-1")
		assert.ErrorIs(t, err, domain.ErrInvalidSubGrant)
	})

	t.Run("отозванный доступ", func(t *testing.T) {
		require.NoError(t, env.accesses.Revoke(ctx, service.RevokeRequest{AccessID: res.Access.ID, Actor: "admin-1"}))
		_, err := env.accesses.UpsertSubGrants(ctx, res.Access.ID, []domain.SubGrant{{InstitutionID: "ui"}}, "admin-1")
		assert.ErrorIs(t, err, domain.ErrAccessNotActive)
	})
}

func TestAccessService_ListMine_EffectiveStatus(t *testing.T) {
	env := newTestEnv(t)

	env.grant(t, service.GrantRequest{UserID: "user-1", ProductID: "sub-1m", ProductType: "subscription"})
	env.grant(t, service.GrantRequest{UserID: "user-2", ProductID: "sub-1m", ProductType: "subscription"})

	mine, err := env.accesses.ListMine(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.AccessStatusActive, mine[0].Status)

	env.clock.Advance(45 * 24 * time.Hour)

	mine, err = env.accesses.ListMine(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.AccessStatusExpired, mine[0].Status)
	assert.False(t, mine[0].IsActive)
}
