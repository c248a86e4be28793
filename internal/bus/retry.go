package bus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds redelivery of one message.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries twice, doubling from 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond}
}

// PublishWithRetry publishes msg, retrying transport failures with exponential
// backoff. The final error is logged and returned.
func PublishWithRetry(ctx context.Context, p Publisher, msg Message, policy RetryPolicy, logger *zap.Logger) error {
	err := withRetry(ctx, policy.MaxRetries, policy.BaseDelay, func(ctx context.Context) error {
		return p.Publish(ctx, msg.Topic, msg.Key, msg.Payload)
	})
	if err != nil && logger != nil {
		logger.Warn("publish failed",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Int("retries", policy.MaxRetries),
			zap.Error(err),
		)
	}
	return err
}

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
