package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/classifier"
	"github.com/example/boneguard/internal/logging"
	"github.com/example/boneguard/internal/repository"
)

// ErrAuditDisabled is returned by audit queries when no database is configured.
var ErrAuditDisabled = errors.New("audit log is not configured")

const auditWriteTimeout = 5 * time.Second

// AuditRepository defines the persistence operations needed by the use case.
type AuditRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisUseCase classifies selections through the prediction service and keeps
// an audit trail of every attempt.
type AnalysisUseCase struct {
	client         classifier.Client
	repo           AuditRepository
	cache          Cache
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisUseCase constructs a new use case instance. repo and cache may be nil,
// which disables the audit log and the metrics cache respectively.
func NewAnalysisUseCase(client classifier.Client, repo AuditRepository, cache Cache, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		client:         client,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("analysis_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Classify sends one selection to the prediction service and maps the answer onto a
// ClassificationResult. Audit failures are logged and never fail the call.
func (uc *AnalysisUseCase) Classify(ctx context.Context, selection analysis.UploadSelection) (analysis.ClassificationResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)

	started := uc.now()
	pred, err := uc.client.Predict(ctx, selection)
	latency := uc.now().Sub(started)

	hash := sha1.Sum(selection.Data)
	entry := &repository.AnalysisLog{
		RequestID:   requestID,
		FileName:    selection.FileName,
		ContentType: selection.MediaType(),
		SizeBytes:   int64(len(selection.Data)),
		SHA1Hash:    hex.EncodeToString(hash[:]),
		LatencyMs:   latency.Milliseconds(),
		CreatedAt:   started.UTC(),
	}

	if err != nil {
		kind := classifier.Kind(err)
		entry.Outcome = string(kind)
		entry.Details = err.Error()
		uc.record(ctx, entry)

		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Warn("classification failed", zap.String("kind", string(kind)), zap.Error(err))
		return analysis.ClassificationResult{}, wrapped
	}

	result := analysis.NewClassificationResult(pred.Label, pred.Probability, selection.FileName)
	entry.Outcome = repository.OutcomeSuccess
	entry.Prediction = pred.Label
	entry.Positive = result.Label == analysis.Positive
	entry.Confidence = result.Confidence
	entry.Details = fmt.Sprintf("prediction:%q probability:%f", pred.Label, pred.Probability)
	uc.record(ctx, entry)

	opLogger.Info("classification completed",
		zap.String("file_name", selection.FileName),
		zap.String("label", result.Label.String()),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("latency", latency),
	)
	return result, nil
}

// GetAnalysis loads one audit entry.
func (uc *AnalysisUseCase) GetAnalysis(ctx context.Context, requestID string) (*repository.AnalysisLog, error) {
	if uc.repo == nil {
		return nil, ErrAuditDisabled
	}
	return uc.repo.FindByRequestID(ctx, requestID)
}

func (uc *AnalysisUseCase) record(ctx context.Context, entry *repository.AnalysisLog) {
	if uc.repo == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := uc.repo.SaveLog(writeCtx, entry); err != nil {
		logging.WithOperation(uc.logger, "usecase.record", entry.RequestID).Error("failed to persist analysis log", zap.Error(err))
	}
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, ErrCacheMiss) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, "", operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
