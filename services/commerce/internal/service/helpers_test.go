package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/learning-commerce/pkg/crypto"
	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/redislock"
	"example.com/learning-commerce/services/commerce/internal/client"
	"example.com/learning-commerce/services/commerce/internal/domain"
	"example.com/learning-commerce/services/commerce/internal/repository"
	"example.com/learning-commerce/services/commerce/internal/service"
	"example.com/learning-commerce/services/commerce/internal/testutil"
)

const testCallbackToken = "callback-secret"

// recordingNotifier запоминает опубликованные события.
type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Publish(_ context.Context, e events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []events.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Type, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

func (n *recordingNotifier) last(t events.Type) *events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].Type == t {
			e := n.events[i]
			return &e
		}
	}
	return nil
}

// mockGateway — мок платёжного шлюза.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateInvoice(ctx context.Context, req client.CreateInvoiceRequest) (*client.Invoice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Invoice), args.Error(1)
}

// clock — управляемое время.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — SQLite, miniredis и сервисы поверх них.
type testEnv struct {
	db       *gorm.DB
	store    repository.Store
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	locker   *redislock.Locker
	cipher   *crypto.Cipher
	notifier *recordingNotifier
	clock    *clock
	gateway  *mockGateway

	orders   service.OrderService
	accesses service.AccessService
	webhooks service.WebhookService
	expiry   *service.ExpiryService
}

// testStart — 10 января 2024, 10:00 по Джакарте.
var testStart = time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb := testutil.NewSQLiteDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cipher, err := crypto.NewCipher("test-pii-key")
	require.NoError(t, err)

	env := &testEnv{
		db:       gdb,
		store:    repository.NewStore(gdb),
		mr:       mr,
		rdb:      rdb,
		locker:   redislock.New(rdb, "commerce:lock:"),
		cipher:   cipher,
		notifier: &recordingNotifier{},
		clock:    &clock{now: testStart},
		gateway:  &mockGateway{},
	}

	deps := service.Deps{
		Store:          env.store,
		Cipher:         cipher,
		Notifier:       env.notifier,
		Redis:          rdb,
		StatusCacheTTL: 5 * time.Second,
		Location:       testutil.Jakarta(t),
		PaymentWindow:  24 * time.Hour,
		Now:            env.clock.Now,
	}
	env.orders = service.NewOrderService(deps, env.gateway, env.locker, service.PaymentConfig{
		SuccessRedirectURL: "https://learn.example.com/payment/success",
		FailureRedirectURL: "https://learn.example.com/payment/failure",
	})
	env.accesses = service.NewAccessService(deps)
	env.webhooks = service.NewWebhookService(deps, testCallbackToken)
	env.expiry = service.NewExpiryService(deps)

	for _, p := range []domain.Product{
		{ID: "sub-1m", Name: "Подписка 1 месяц", Type: domain.ProductTypeSubscription, Price: 50000, DurationMonths: 1},
		{ID: "sub-3m", Name: "Подписка 3 месяца", Type: domain.ProductTypeSubscription, Price: 100000, DurationMonths: 3},
		{ID: "sub-12m", Name: "Подписка 12 месяцев", Type: domain.ProductTypeSubscription, Price: 300000, DurationMonths: 12},
		{ID: "tryout-1m", Name: "Пробный тест", Type: domain.ProductTypeTryout, Price: 40000, DurationMonths: 1},
		{ID: "tryout-3m", Name: "Пробные тесты 3 месяца", Type: domain.ProductTypeTryout, Price: 90000, DurationMonths: 3},
		{ID: "webinar-1", Name: "Вебинар", Type: domain.ProductTypeWebinar, Price: 75000},
	} {
		testutil.SeedProduct(t, gdb, p)
	}
	testutil.SeedUser(t, gdb, domain.User{ID: "user-1", Name: "Siti", Email: "siti@example.com", Phone: "+628123", Timezone: "Asia/Jakarta"})
	testutil.SeedUser(t, gdb, domain.User{ID: "user-2", Name: "Budi", Email: "budi@example.com"})

	return env
}

func newKey() string { return uuid.NewString() }

// checkout создаёт pending заказ и проверяет успех.
func (e *testEnv) checkout(t *testing.T, userID, productID string, productType domain.ProductType) *domain.OrderRef {
	t.Helper()
	ref, err := e.orders.Create(context.Background(), service.CreateOrderRequest{
		UserID:         userID,
		IdempotencyKey: newKey(),
		ProductID:      productID,
		ProductType:    string(productType),
	})
	require.NoError(t, err)
	return ref
}

// grant выдаёт доступ от имени администратора.
func (e *testEnv) grant(t *testing.T, req service.GrantRequest) *service.GrantResult {
	t.Helper()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = newKey()
	}
	if req.Actor == "" {
		req.Actor = "admin-1"
	}
	res, err := e.accesses.Grant(context.Background(), req)
	require.NoError(t, err)
	return res
}

// loadOrder читает заказ напрямую из хранилища.
func (e *testEnv) loadOrder(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	order, err := e.store.Orders().GetByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (e *testEnv) loadAccess(t *testing.T, accessID string) *domain.Access {
	t.Helper()
	a, err := e.store.Accesses().GetByID(context.Background(), accessID)
	require.NoError(t, err)
	return a
}

func (e *testEnv) activeAccesses(t *testing.T, userID string, typ domain.ProductType) int64 {
	t.Helper()
	return testutil.CountRows(t, e.db, &repository.AccessModel{},
		"user_id = ? AND type = ? AND status = ?", userID, string(typ), string(domain.AccessStatusActive))
}

// invoiceCallback собирает тело вебхука Xendit для транзакции.
func invoiceCallback(t *testing.T, eventID, externalID, status string, paidAmount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":              eventID,
		"external_id":     externalID,
		"status":          status,
		"paid_amount":     paidAmount,
		"payment_method":  "BANK_TRANSFER",
		"payment_channel": "BCA",
	})
	require.NoError(t, err)
	return body
}

// pendingTransactionID возвращает ID pending транзакции заказа.
func (e *testEnv) pendingTransactionID(t *testing.T, orderID string) string {
	t.Helper()
	txn := e.loadOrder(t, orderID).PendingTransaction()
	require.NotNil(t, txn)
	return txn.ID
}
