package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/logging"
)

// RetryPolicy bounds how often a network failure is retried. Attempts <= 1 means no retry.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy fails on the first error.
var DefaultRetryPolicy = RetryPolicy{Attempts: 1, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}

type retryingClient struct {
	next   Client
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry decorates next so that network failures are retried with exponential
// backoff. HTTP and malformed-response errors are returned immediately.
func WithRetry(next Client, policy RetryPolicy, logger *zap.Logger) Client {
	if policy.Attempts <= 1 {
		return next
	}
	return &retryingClient{next: next, policy: policy, logger: logger.Named("classifier_retry")}
}

func (r *retryingClient) Predict(ctx context.Context, selection analysis.UploadSelection) (*Prediction, error) {
	const op = "classifier.retry"

	backoff := r.policy.InitialBackoff
	var err error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, logging.NewOperationError(op, "", networkError(ctx.Err()))
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.policy.MaxBackoff {
				backoff = next
			}
		}

		var pred *Prediction
		pred, err = r.next.Predict(ctx, selection)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("prediction succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return pred, nil
		}

		if !errors.Is(err, ErrNetwork) || attempt == r.policy.Attempts-1 {
			return nil, err
		}
		r.logger.Warn("transient prediction failure", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return nil, err
}
