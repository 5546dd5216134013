package consumer

import (
	"context"

	"example.com/learning-commerce/pkg/kafka"
	"example.com/learning-commerce/pkg/logger"
)

// Runner читает commerce.notifications и передаёт события Processor.
type Runner struct {
	consumer  *kafka.Consumer
	processor *Processor
	policy    kafka.RetryPolicy
}

// NewRunner создаёт Runner.
func NewRunner(consumer *kafka.Consumer, processor *Processor, policy kafka.RetryPolicy) *Runner {
	return &Runner{consumer: consumer, processor: processor, policy: policy}
}

// Run блокируется до отмены context.
func (r *Runner) Run(ctx context.Context) error {
	logger.Info().
		Int("max_retries", r.policy.MaxRetries).
		Dur("base_delay", r.policy.BaseDelay).
		Msg("Запуск обработчика уведомлений")

	return r.consumer.ConsumeWithRetry(ctx, r.processor.Handle, r.policy)
}

// Close закрывает consumer.
func (r *Runner) Close() error {
	return r.consumer.Close()
}
