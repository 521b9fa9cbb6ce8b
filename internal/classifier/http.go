package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/logging"
)

// FormField is the multipart field carrying the image.
const FormField = "file"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTPClient posts images to <base>/predict as multipart form data.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client for the service rooted at baseURL. A zero
// timeout leaves the transport's own behavior in place.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, logging.NewOperationError("classifier.http.new", "", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, logging.NewOperationError("classifier.http.new", "", fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}
	endpoint := parsed.JoinPath("predict").String()

	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("classifier_http"),
	}, nil
}

// Endpoint returns the full prediction URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Predict uploads one image and decodes the service's answer.
func (c *HTTPClient) Predict(ctx context.Context, selection analysis.UploadSelection) (*Prediction, error) {
	const op = "classifier.http.predict"

	body, contentType, err := buildMultipartBody(selection)
	if err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError(op, "", networkError(err))
		c.logger.Error("prediction request failed", zap.Error(wrapped), zap.String("endpoint", c.endpoint))
		return nil, wrapped
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		wrapped := logging.NewOperationError(op, "", networkError(err))
		c.logger.Error("failed to read prediction response", zap.Error(wrapped))
		return nil, wrapped
	}
	c.logger.Debug("raw prediction response",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", raw),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wrapped := logging.NewOperationError(op, "", &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)})
		c.logger.Warn("prediction service returned error status", zap.Int("status", resp.StatusCode))
		return nil, wrapped
	}

	pred, err := DecodePrediction(raw)
	if err != nil {
		wrapped := logging.NewOperationError(op, "", err)
		c.logger.Error("invalid JSON from prediction service", zap.Error(wrapped))
		return nil, wrapped
	}
	return pred, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildMultipartBody(selection analysis.UploadSelection) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, quoteEscaper.Replace(selection.FileName)))
	header.Set("Content-Type", selection.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(selection.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
