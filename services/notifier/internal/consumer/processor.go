// Package consumer превращает события из commerce.notifications в письма.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/learning-commerce/pkg/events"
	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/notifier/internal/mailer"
	"example.com/learning-commerce/services/notifier/internal/templates"
)

const (
	serviceName = "notifier"

	// sentKeyPrefix — отметки об отправленных письмах: notifier:sent:{event_id}.
	sentKeyPrefix = "notifier:sent:"
)

// Результаты обработки для метрики notifications_total.
const (
	resultSent      = "sent"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
	resultDuplicate = "duplicate"
)

// Decrypter расшифровывает контакты получателя. Реализуется *crypto.Cipher.
type Decrypter interface {
	Decrypt(encoded string) (string, error)
}

// Renderer собирает письмо. Реализуется *templates.Renderer.
type Renderer interface {
	Render(e *events.Event, recipientName string) (subject, body string, err error)
}

// Processor обрабатывает одно событие уведомления.
type Processor struct {
	renderer Renderer
	sender   mailer.Sender
	cipher   Decrypter
	redis    *redis.Client
	dedupTTL time.Duration
}

// NewProcessor создаёт Processor. Если rdb равен nil, повторная доставка
// события приведёт к повторному письму.
func NewProcessor(renderer Renderer, sender mailer.Sender, cipher Decrypter, rdb *redis.Client, dedupTTL time.Duration) *Processor {
	return &Processor{
		renderer: renderer,
		sender:   sender,
		cipher:   cipher,
		redis:    rdb,
		dedupTTL: dedupTTL,
	}
}

// Handle — kafka.MessageHandler. Битые сообщения помечаются Permanent
// и сразу уходят в DLQ, ошибки SMTP повторяются.
func (p *Processor) Handle(ctx context.Context, msg *kafka.Message) error {
	e, err := events.Unmarshal(msg.Value)
	if err != nil {
		p.count(resultFailed)
		return kafka.Permanent(err)
	}

	log := logger.Ctx(ctx).With().
		Str("event_id", e.ID).
		Str("event_type", string(e.Type)).
		Str("user_id", e.UserID).
		Logger()

	if e.RecipientEnc == "" {
		log.Debug().Msg("Событие без получателя, письмо не отправляется")
		p.count(resultSkipped)
		return nil
	}

	if p.alreadySent(ctx, e.ID) {
		log.Info().Msg("Письмо по событию уже отправлено")
		p.count(resultDuplicate)
		return nil
	}

	to, err := p.cipher.Decrypt(e.RecipientEnc)
	if err != nil {
		p.count(resultFailed)
		return kafka.Permanent(fmt.Errorf("расшифровка получателя: %w", err))
	}
	name := ""
	if e.RecipientNameEnc != "" {
		if name, err = p.cipher.Decrypt(e.RecipientNameEnc); err != nil {
			log.Warn().Err(err).Msg("Не удалось расшифровать имя получателя")
			name = ""
		}
	}

	subject, body, err := p.renderer.Render(e, name)
	if errors.Is(err, templates.ErrUnsupportedType) {
		log.Debug().Msg("Для события нет письма")
		p.count(resultSkipped)
		return nil
	}
	if err != nil {
		p.count(resultFailed)
		return kafka.Permanent(err)
	}

	if err := p.sender.Send(ctx, mailer.Message{To: to, ToName: name, Subject: subject, HTML: body}); err != nil {
		p.count(resultFailed)
		return fmt.Errorf("отправка письма: %w", err)
	}

	p.markSent(ctx, e.ID)
	p.count(resultSent)
	log.Info().Str("subject", subject).Msg("Письмо отправлено")
	return nil
}

func (p *Processor) alreadySent(ctx context.Context, eventID string) bool {
	if p.redis == nil || eventID == "" {
		return false
	}
	n, err := p.redis.Exists(ctx, sentKeyPrefix+eventID).Result()
	if err != nil {
		// Redis недоступен: лучше повторное письмо, чем потерянное
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка Redis при проверке отправки")
		return false
	}
	return n > 0
}

func (p *Processor) markSent(ctx context.Context, eventID string) {
	if p.redis == nil || eventID == "" {
		return
	}
	if err := p.redis.Set(ctx, sentKeyPrefix+eventID, 1, p.dedupTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка записи отметки об отправке")
	}
}

func (p *Processor) count(result string) {
	metrics.Notifications.WithLabelValues(serviceName, result).Inc()
}
