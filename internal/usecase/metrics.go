package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/logging"
)

const (
	metricsCacheKey = "boneguard:metrics:summary"
	metricsCacheTTL = 30 * time.Second
)

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	PositiveFindings   int64     `json:"positive_findings"`
	SuccessRate        float64   `json:"success_rate"`
	PositiveRate       float64   `json:"positive_rate"`
	AverageConfidence  float64   `json:"average_confidence"`
	AverageLatencyMs   float64   `json:"average_latency_ms"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// GetMetricsSummary aggregates analysis metrics from the audit log, served from
// the cache when a fresh copy exists.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrAuditDisabled
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.metrics_summary", "")

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, "cache.get.metrics", metricsCacheKey)
		switch {
		case err == nil:
			var summary MetricsSummary
			if err := json.Unmarshal([]byte(cached), &summary); err == nil {
				return &summary, nil
			}
			opLogger.Warn("failed to decode cached metrics", zap.Error(err))
		case !errors.Is(err, ErrCacheMiss):
			opLogger.Warn("failed to read metrics cache", zap.Error(err))
		}
	}

	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		PositiveFindings:   aggregation.PositiveCount,
		AverageConfidence:  aggregation.AverageConfidence,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
		GeneratedAt:        uc.now().UTC(),
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	if aggregation.SuccessCount > 0 {
		summary.PositiveRate = float64(aggregation.PositiveCount) / float64(aggregation.SuccessCount)
	}

	if uc.cache != nil {
		if serialized, err := json.Marshal(summary); err == nil {
			if err := uc.withRedisRetry(ctx, "", "cache.set.metrics", func() error {
				return uc.cache.Set(ctx, metricsCacheKey, string(serialized), metricsCacheTTL)
			}); err != nil {
				opLogger.Warn("failed to cache metrics summary", zap.Error(err))
			}
		}
	}
	return summary, nil
}
