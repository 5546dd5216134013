package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/learning-commerce/pkg/logger"
)

// =====================================================
// Fakes
// =====================================================

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

// fakeReader отдаёт сообщения из очереди, затем блокируется до отмены context.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error             { return nil }
func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{Lag: 7} }

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// =====================================================
// Producer
// =====================================================

func TestProducer_PublishAddsContextHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ctx := logger.NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	err := p.Publish(ctx, TopicNotifications, []byte("user-1"), []byte(`{}`), map[string]string{
		HeaderEventType: "order.paid",
	})
	require.NoError(t, err)

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, TopicNotifications, msgs[0].Topic)
	assert.Equal(t, "trace-1", headerValue(msgs[0], HeaderTraceID))
	assert.Equal(t, "corr-1", headerValue(msgs[0], HeaderCorrelationID))
	assert.Equal(t, "order.paid", headerValue(msgs[0], HeaderEventType))
	assert.NotEmpty(t, headerValue(msgs[0], HeaderTimestamp))
}

func TestProducer_ExplicitHeadersWin(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ctx := logger.WithTraceID(context.Background(), "from-ctx")
	require.NoError(t, p.Publish(ctx, TopicNotifications, nil, nil, map[string]string{HeaderTraceID: "explicit"}))

	assert.Equal(t, "explicit", headerValue(w.written()[0], HeaderTraceID))
}

func TestProducer_Errors(t *testing.T) {
	t.Run("пустой топик", func(t *testing.T) {
		p := &Producer{writer: &fakeWriter{}}
		assert.Error(t, p.SendMessage(context.Background(), &Message{}))
	})

	t.Run("ошибка брокера", func(t *testing.T) {
		p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}
		err := p.Publish(context.Background(), TopicNotifications, nil, nil, nil)
		assert.ErrorContains(t, err, "broker down")
	})

	t.Run("нет брокеров", func(t *testing.T) {
		_, err := NewProducer(Config{})
		assert.Error(t, err)
	})
}

func TestProducer_SendToDLQ(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	original := &Message{
		Topic:   TopicNotifications,
		Key:     []byte("user-1"),
		Value:   []byte(`{"type":"order.paid"}`),
		Headers: map[string]string{HeaderTraceID: "trace-9"},
	}
	require.NoError(t, p.SendToDLQ(context.Background(), TopicNotificationsDLQ, original, errors.New("smtp timeout")))

	msg := w.written()[0]
	assert.Equal(t, TopicNotificationsDLQ, msg.Topic)
	assert.Equal(t, original.Value, msg.Value)
	assert.Equal(t, "smtp timeout", headerValue(msg, HeaderDLQError))
	assert.Equal(t, TopicNotifications, headerValue(msg, HeaderDLQOriginalTopic))
	assert.Equal(t, "trace-9", headerValue(msg, HeaderTraceID))
}

// =====================================================
// Consumer
// =====================================================

func TestConsumer_CommitsAndRoutesFailuresToDLQ(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: TopicNotifications, Offset: 1, Value: []byte("ok"),
			Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("trace-1")}}},
		kafka.Message{Topic: TopicNotifications, Offset: 2, Value: []byte("bad")},
	)
	dlq := &fakeWriter{}
	c := &Consumer{reader: reader, topic: TopicNotifications, dlqTopic: TopicNotificationsDLQ}
	c.SetDLQProducer(&Producer{writer: dlq})

	var seenTrace string
	handler := func(ctx context.Context, msg *Message) error {
		if string(msg.Value) == "bad" {
			return errors.New("битый payload")
		}
		seenTrace = logger.TraceIDFromContext(ctx)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer не обработал сообщения")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "trace-1", seenTrace)
	assert.Equal(t, []int64{1, 2}, reader.committed)

	dlqMsgs := dlq.written()
	require.Len(t, dlqMsgs, 1)
	assert.Equal(t, []byte("bad"), dlqMsgs[0].Value)
	assert.Equal(t, int64(7), c.Lag())
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}

	t.Run("успех после повторов", func(t *testing.T) {
		calls := 0
		h := withRetry(func(context.Context, *Message) error {
			calls++
			if calls < 3 {
				return errors.New("временная ошибка")
			}
			return nil
		}, policy)

		require.NoError(t, h(context.Background(), &Message{}))
		assert.Equal(t, 3, calls)
	})

	t.Run("исчерпание попыток", func(t *testing.T) {
		calls := 0
		h := withRetry(func(context.Context, *Message) error {
			calls++
			return errors.New("smtp недоступен")
		}, policy)

		err := h(context.Background(), &Message{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "исчерпаны попытки")
		assert.Equal(t, 3, calls)
	})

	t.Run("неповторяемая ошибка", func(t *testing.T) {
		calls := 0
		h := withRetry(func(context.Context, *Message) error {
			calls++
			return Permanent(errors.New("битый JSON"))
		}, policy)

		err := h(context.Background(), &Message{})
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, calls)
	})
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(Config{}, TopicNotifications)
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, "")
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, TopicNotifications)
	assert.Error(t, err, "без consumer group")
}
