package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/learning-commerce/pkg/crypto"
	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/notifier/internal/mailer"
	"example.com/learning-commerce/services/notifier/internal/templates"
)

// mockSender запоминает письма и может возвращать ошибку.
type mockSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *mockSender) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	processor *Processor
	sender    *mockSender
	cipher    *crypto.Cipher
	mr        *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	renderer, err := templates.New(loc)
	require.NoError(t, err)

	cipher, err := crypto.NewCipher("test-pii-key")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sender := &mockSender{}
	return &testEnv{
		processor: NewProcessor(renderer, sender, cipher, rdb, time.Hour),
		sender:    sender,
		cipher:    cipher,
		mr:        mr,
	}
}

func (e *testEnv) message(t *testing.T, ev events.Event) *kafka.Message {
	t.Helper()
	value, err := ev.Marshal()
	require.NoError(t, err)
	return &kafka.Message{Key: []byte(ev.UserID), Value: value, Topic: kafka.TopicNotifications}
}

func (e *testEnv) paidEvent(t *testing.T, id string) events.Event {
	t.Helper()
	to, err := e.cipher.Encrypt("siti@example.com")
	require.NoError(t, err)
	name, err := e.cipher.Encrypt("Siti")
	require.NoError(t, err)

	return events.Event{
		ID:               id,
		Type:             events.OrderPaid,
		UserID:           "user-1",
		OrderID:          "ROORDER-20240110-01HMZ",
		InvoiceNumber:    "INV-RO-20240110-3",
		Amount:           80000,
		RecipientEnc:     to,
		RecipientNameEnc: name,
		Data:             map[string]string{"product_name": "Premium 3 bulan"},
	}
}

func notifications(result string) float64 {
	return testutil.ToFloat64(metrics.Notifications.WithLabelValues(serviceName, result))
}

func TestProcessor_SendsDecryptedRecipient(t *testing.T) {
	env := newTestEnv(t)
	before := notifications(resultSent)

	err := env.processor.Handle(context.Background(), env.message(t, env.paidEvent(t, "evt-1")))

	require.NoError(t, err)
	require.Equal(t, 1, env.sender.count())
	msg := env.sender.sent[0]
	assert.Equal(t, "siti@example.com", msg.To)
	assert.Equal(t, "Siti", msg.ToName)
	assert.Equal(t, "Pembayaran diterima INV-RO-20240110-3", msg.Subject)
	assert.Contains(t, msg.HTML, "Premium 3 bulan")
	assert.Equal(t, before+1, notifications(resultSent))
	assert.True(t, env.mr.Exists(sentKeyPrefix+"evt-1"))
}

func TestProcessor_DuplicateDeliverySendsOnce(t *testing.T) {
	env := newTestEnv(t)
	msg := env.message(t, env.paidEvent(t, "evt-dup"))

	require.NoError(t, env.processor.Handle(context.Background(), msg))
	require.NoError(t, env.processor.Handle(context.Background(), msg))

	assert.Equal(t, 1, env.sender.count())
}

func TestProcessor_RedisDownStillSends(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	err := env.processor.Handle(context.Background(), env.message(t, env.paidEvent(t, "evt-2")))

	require.NoError(t, err)
	assert.Equal(t, 1, env.sender.count())
}

func TestProcessor_SkipsEventWithoutRecipient(t *testing.T) {
	env := newTestEnv(t)
	ev := env.paidEvent(t, "evt-3")
	ev.RecipientEnc = ""
	before := notifications(resultSkipped)

	err := env.processor.Handle(context.Background(), env.message(t, ev))

	require.NoError(t, err)
	assert.Zero(t, env.sender.count())
	assert.Equal(t, before+1, notifications(resultSkipped))
}

func TestProcessor_SkipsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	ev := env.paidEvent(t, "evt-4")
	ev.Type = "user.registered"

	err := env.processor.Handle(context.Background(), env.message(t, ev))

	require.NoError(t, err)
	assert.Zero(t, env.sender.count())
}

func TestProcessor_PermanentErrors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("битый JSON", func(t *testing.T) {
		err := env.processor.Handle(context.Background(), &kafka.Message{Value: []byte("{")})
		require.Error(t, err)
		assert.True(t, kafka.IsPermanent(err))
	})

	t.Run("получатель зашифрован другим ключом", func(t *testing.T) {
		ev := env.paidEvent(t, "evt-5")
		ev.RecipientEnc = "не-base64"

		err := env.processor.Handle(context.Background(), env.message(t, ev))
		require.Error(t, err)
		assert.True(t, kafka.IsPermanent(err))
	})

	assert.Zero(t, env.sender.count())
}

func TestProcessor_SMTPErrorIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("421 service not available")
	before := notifications(resultFailed)

	err := env.processor.Handle(context.Background(), env.message(t, env.paidEvent(t, "evt-6")))

	require.Error(t, err)
	assert.False(t, kafka.IsPermanent(err))
	assert.False(t, env.mr.Exists(sentKeyPrefix+"evt-6"), "неотправленное письмо не помечается")
	assert.Equal(t, before+1, notifications(resultFailed))
}

func TestProcessor_UndecryptableNameFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ev := env.paidEvent(t, "evt-7")
	ev.RecipientNameEnc = "мусор"

	err := env.processor.Handle(context.Background(), env.message(t, ev))

	require.NoError(t, err)
	require.Equal(t, 1, env.sender.count())
	assert.Contains(t, env.sender.sent[0].HTML, "Halo Pelanggan")
}
