package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/boneguard/internal/logging"
)

// ErrNotFound is returned when no audit entry matches.
var ErrNotFound = errors.New("analysis log not found")

// AnalysisLog is one persisted submission attempt. It never stores the image itself.
type AnalysisLog struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RequestID   string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	FileName    string    `gorm:"column:file_name;size:255" json:"file_name"`
	ContentType string    `gorm:"column:content_type;size:32" json:"content_type"`
	SizeBytes   int64     `gorm:"column:size_bytes" json:"size_bytes"`
	SHA1Hash    string    `gorm:"column:sha1_hash;index;size:40" json:"sha1_hash"`
	Outcome     string    `gorm:"column:outcome;index;size:16" json:"outcome"`
	Prediction  string    `gorm:"column:prediction;size:64" json:"prediction,omitempty"`
	Positive    bool      `gorm:"column:positive" json:"positive"`
	Confidence  float64   `gorm:"column:confidence" json:"confidence"`
	Details     string    `gorm:"column:details;type:text" json:"details,omitempty"`
	LatencyMs   int64     `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt   time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// OutcomeSuccess is the outcome recorded for a classified image.
const OutcomeSuccess = "success"

// MetricsAggregation is the raw aggregate over all audit entries.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	PositiveCount     int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// AnalysisRepository persists audit entries through gorm.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
	})
}

// SaveLog persists an audit entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the entry recorded for requestID.
func (r *AnalysisRepository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisLog, error) {
	var log AnalysisLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes every stored entry.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		SuccessCount      int64
		PositiveCount     int64
		AverageConfidence float64
		AverageLatencyMs  float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&AnalysisLog{}).Select(
			"COUNT(*) AS total_count, "+
				"COUNT(*) FILTER (WHERE outcome = ?) AS success_count, "+
				"COUNT(*) FILTER (WHERE outcome = ? AND positive) AS positive_count, "+
				"COALESCE(AVG(confidence) FILTER (WHERE outcome = ?), 0) AS average_confidence, "+
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms",
			OutcomeSuccess, OutcomeSuccess, OutcomeSuccess,
		).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		SuccessCount:      row.SuccessCount,
		PositiveCount:     row.PositiveCount,
		AverageConfidence: row.AverageConfidence,
		AverageLatencyMs:  row.AverageLatencyMs,
	}, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			if !errors.Is(err, ErrNotFound) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
