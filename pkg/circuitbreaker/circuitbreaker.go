// Package circuitbreaker защищает вызовы внешних HTTP API (платёжный шлюз)
// от каскадных сбоев: при серии ошибок breaker открывается и запросы
// отклоняются мгновенно, не дожидаясь таймаута.
//
// Состояния:
//   - Closed: нормальная работа, запросы проходят
//   - Open: шлюз считается недоступным, запросы отклоняются сразу
//   - Half-Open: пробный период, пропускаем MaxRequests запросов
//
// Использование:
//
//	cb := circuitbreaker.New("xendit")
//	inv, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (*Invoice, error) {
//	    return c.createInvoice(ctx, req)
//	})
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/learning-commerce/pkg/logger"
)

// ErrOpen — breaker открыт или в Half-Open исчерпан лимит пробных запросов.
var ErrOpen = errors.New("внешний сервис временно недоступен (circuit breaker open)")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // запросов в Half-Open
	Interval     time.Duration // период сброса счётчиков в Closed
	Timeout      time.Duration // время в Open до перехода в Half-Open
	FailureRatio float64       // доля ошибок для перехода в Open
	MinRequests  uint32        // минимум запросов для расчёта доли

	// IsFailure решает, учитывать ли ошибку. По умолчанию любая ошибка,
	// кроме отмены context вызывающим.
	IsFailure func(err error) bool
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием смены состояний.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = defaultIsFailure
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},

		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — сервис недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — сервис восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Execute выполняет fn через breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do выполняет fn через breaker и возвращает её результат.
// Ошибки fn возвращаются как есть; отказ открытого breaker — ErrOpen.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	if err != nil {
		return zero, err
	}

	out, _ := res.(T)
	return out, nil
}

// defaultIsFailure не учитывает отмену запроса клиентом: это не сбой шлюза.
func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}
