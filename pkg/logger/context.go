package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey — приватный тип ключей контекста, исключает коллизии с другими пакетами.
type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"
	correlationIDKey ctxKey = "correlation_id"
	userIDKey        ctxKey = "user_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
// Trace ID генерируется на входе HTTP запроса или приходит в заголовке Kafka сообщения.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithCorrelationID добавляет correlation_id в контекст.
// Correlation ID связывает HTTP запрос, outbox запись и письмо, отправленное notifier-ом.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// WithUserID добавляет ID аутентифицированного пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext извлекает ID пользователя из контекста.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithLogger кладёт настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный) и добавляет
// trace_id, correlation_id и user_id, если они есть в контексте.
//
//	log := logger.FromContext(ctx)
//	log.Info().Str("order_id", id).Msg("Заказ оплачен")
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = log
	}

	fields := l.With()
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = fields.Str("trace_id", traceID)
	}
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		fields = fields.Str("correlation_id", correlationID)
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		fields = fields.Str("user_id", userID)
	}
	return fields.Logger()
}

// Ctx — указательная версия FromContext, совместимая по форме с zerolog.Ctx().
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет непустые trace_id и correlation_id в контекст.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

// Detach возвращает новый контекст без отмены и дедлайна, сохраняя
// trace_id, correlation_id и user_id. Используется для фоновой работы,
// которая должна пережить завершение HTTP запроса.
func Detach(ctx context.Context) context.Context {
	out := NewContextWithIDs(context.Background(), TraceIDFromContext(ctx), CorrelationIDFromContext(ctx))
	if userID := UserIDFromContext(ctx); userID != "" {
		out = WithUserID(out, userID)
	}
	return out
}
