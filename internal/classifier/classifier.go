// Package classifier talks to the external prediction service.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/boneguard/internal/analysis"
)

var (
	// ErrNetwork marks failures reaching the prediction service: dial errors,
	// broken connections and timeouts.
	ErrNetwork = errors.New("prediction service unreachable")
	// ErrMalformedResponse marks a success response whose body is not parseable JSON.
	ErrMalformedResponse = errors.New("malformed prediction response")
)

// HTTPError is returned when the prediction service answers outside the success range.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("prediction service returned status %d: %s", e.StatusCode, e.Body)
}

// ErrorKind buckets classifier failures for callers that render or record them.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindNetwork   ErrorKind = "network"
	KindHTTP      ErrorKind = "http"
	KindMalformed ErrorKind = "malformed"
	KindUnknown   ErrorKind = "unknown"
)

// Kind reports which failure bucket err falls into.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	default:
		return KindUnknown
	}
}

// Prediction is the decoded response of the prediction service.
type Prediction struct {
	Label       string
	Probability float64
}

// Client is the subset of the prediction service used by the upload flow.
type Client interface {
	Predict(ctx context.Context, selection analysis.UploadSelection) (*Prediction, error)
}

// DecodePrediction parses a response body. Only invalid JSON is rejected. Any
// value that is not an object yields an empty Prediction; a non-string prediction
// reads as "" and a non-numeric probability as 0.
func DecodePrediction(body []byte) (*Prediction, error) {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	pred := &Prediction{}
	fields, ok := value.(map[string]any)
	if !ok {
		return pred, nil
	}
	if label, ok := fields["prediction"].(string); ok {
		pred.Label = label
	}
	if prob, ok := fields["probability"].(float64); ok {
		pred.Probability = prob
	}
	return pred, nil
}

func networkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
