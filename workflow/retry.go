package workflow

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/types"
)

// RetryPolicy 步骤级重试策略: 指数退避 + 抖动, 仅对可恢复错误生效.
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数 (0 表示不重试)
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 延迟上限
	Multiplier   float64       // 指数倍增因子
	Jitter       bool          // 随机抖动, 防止雪崩
}

// DefaultRetryPolicy matches the default step retry behavior: two retries
// with short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// delay computes the backoff delay for a retry attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		// 均匀抖动到 [d/2, d]
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// retryStep runs fn up to MaxRetries+1 times. Only errors marked retryable
// (EMBEDDING_FAILURE, RETRIEVAL_TIMEOUT, transient store trouble) are
// retried; validation and generation failures escalate immediately.
func retryStep(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() error) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			d := policy.delay(attempt)
			logger.Warn("retrying step",
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(d):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
