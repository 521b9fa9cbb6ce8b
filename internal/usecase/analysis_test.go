package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/classifier"
	"github.com/example/boneguard/internal/logging"
	"github.com/example/boneguard/internal/repository"
)

type stubRepository struct {
	savedLogs      []*repository.AnalysisLog
	saveErr        error
	findLog        *repository.AnalysisLog
	findErr        error
	aggregation    *repository.MetricsAggregation
	aggregateCalls int
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.AnalysisLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisLog, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	s.aggregateCalls++
	if s.aggregation == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.aggregation, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubPredictor struct {
	pred  *classifier.Prediction
	err   error
	calls int
}

func (s *stubPredictor) Predict(ctx context.Context, selection analysis.UploadSelection) (*classifier.Prediction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.pred, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testSelection() analysis.UploadSelection {
	return analysis.UploadSelection{FileName: "pelvis.png", ContentType: "image/png", Data: []byte("png-bytes")}
}

func TestClassifyMapsPredictionAndRecordsAudit(t *testing.T) {
	repo := &stubRepository{}
	client := &stubPredictor{pred: &classifier.Prediction{Label: "CANCER", Probability: 0.9671}}
	uc := NewAnalysisUseCase(client, repo, nil, zap.NewNop())

	result, err := uc.Classify(context.Background(), testSelection())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Label != analysis.Positive || result.Confidence != 0.9671 || result.SourceFileName != "pelvis.png" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(repo.savedLogs))
	}
	entry := repo.savedLogs[0]
	if entry.Outcome != repository.OutcomeSuccess || !entry.Positive || entry.SHA1Hash == "" || entry.SizeBytes != int64(len("png-bytes")) {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestClassifyNonCancerIsNegative(t *testing.T) {
	client := &stubPredictor{pred: &classifier.Prediction{Label: "NORMAL", Probability: 0.12}}
	uc := NewAnalysisUseCase(client, nil, nil, zap.NewNop())

	result, err := uc.Classify(context.Background(), testSelection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Label != analysis.Negative {
		t.Fatalf("expected negative, got %v", result.Label)
	}
}

func TestClassifyRecordsFailureKind(t *testing.T) {
	repo := &stubRepository{}
	httpErr := &classifier.HTTPError{StatusCode: 500, Body: "Internal Server Error"}
	uc := NewAnalysisUseCase(&stubPredictor{err: httpErr}, repo, nil, zap.NewNop())

	_, err := uc.Classify(context.Background(), testSelection())
	if !errors.Is(err, httpErr) {
		t.Fatalf("expected wrapped HTTPError, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.classify" || opErr.RequestID == "" {
		t.Fatalf("expected usecase OperationError, got %v", err)
	}
	if len(repo.savedLogs) != 1 || repo.savedLogs[0].Outcome != string(classifier.KindHTTP) {
		t.Fatalf("unexpected audit entries %+v", repo.savedLogs)
	}
}

func TestClassifyIgnoresAuditFailures(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("db down")}
	client := &stubPredictor{pred: &classifier.Prediction{Label: "NORMAL", Probability: 0.2}}
	uc := NewAnalysisUseCase(client, repo, nil, zap.NewNop())

	if _, err := uc.Classify(context.Background(), testSelection()); err != nil {
		t.Fatalf("audit failure must not fail classification, got %v", err)
	}
}

func TestGetMetricsSummaryComputesRatesAndCaches(t *testing.T) {
	repo := &stubRepository{aggregation: &repository.MetricsAggregation{
		TotalCount:        10,
		SuccessCount:      8,
		PositiveCount:     2,
		AverageConfidence: 0.7,
		AverageLatencyMs:  120,
	}}
	cache := &stubCache{getErrs: []error{ErrCacheMiss}}
	uc := NewAnalysisUseCase(&stubPredictor{}, repo, cache, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.8 || summary.PositiveRate != 0.25 {
		t.Fatalf("unexpected rates %+v", summary)
	}
	if repo.aggregateCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.aggregateCalls)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != metricsCacheKey {
		t.Fatalf("expected summary to be cached, got %v", cache.setKeys)
	}
}

func TestGetMetricsSummaryServesFromCache(t *testing.T) {
	cached, _ := json.Marshal(MetricsSummary{TotalRequests: 42})
	repo := &stubRepository{}
	cache := &stubCache{getValues: []string{string(cached)}}
	uc := NewAnalysisUseCase(&stubPredictor{}, repo, cache, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRequests != 42 {
		t.Fatalf("expected cached summary, got %+v", summary)
	}
	if repo.aggregateCalls != 0 {
		t.Fatalf("repository should not be queried on cache hit, got %d", repo.aggregateCalls)
	}
}

func TestGetMetricsSummaryRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{getErrs: []error{transientRedisError{}, ErrCacheMiss}, setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	uc := NewAnalysisUseCase(&stubPredictor{}, repo, cache, zap.NewNop())
	uc.initialBackoff = time.Millisecond

	if _, err := uc.GetMetricsSummary(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.getKeys) != 2 {
		t.Fatalf("expected cache read to be retried once, got %d reads", len(cache.getKeys))
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected cache write retry on the same key, got %v", cache.setKeys)
	}
}

func TestAuditQueriesRequireRepository(t *testing.T) {
	uc := NewAnalysisUseCase(&stubPredictor{}, nil, nil, zap.NewNop())
	if _, err := uc.GetMetricsSummary(context.Background()); !errors.Is(err, ErrAuditDisabled) {
		t.Fatalf("expected ErrAuditDisabled, got %v", err)
	}
	if _, err := uc.GetAnalysis(context.Background(), "req"); !errors.Is(err, ErrAuditDisabled) {
		t.Fatalf("expected ErrAuditDisabled, got %v", err)
	}
}
