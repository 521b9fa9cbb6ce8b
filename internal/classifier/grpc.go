package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/logging"
)

// PredictMethod is the full gRPC method name of the unary prediction call.
const PredictMethod = "/boneguard.v1.Classifier/Predict"

// DialGRPC returns a ready-to-use gRPC client for the prediction service.
func DialGRPC(ctx context.Context, addr string, logger *zap.Logger) (*GRPCClient, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("classifier.grpc.dial", "", err)
		logger.Error("failed to dial prediction service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewGRPCClient(conn, logger), conn, nil
}

// GRPCClient calls the prediction service over gRPC using protobuf Struct messages.
type GRPCClient struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewGRPCClient wraps an existing connection.
func NewGRPCClient(conn grpc.ClientConnInterface, logger *zap.Logger) *GRPCClient {
	return &GRPCClient{conn: conn, logger: logger.Named("classifier_grpc")}
}

// Predict sends one image and maps the reply onto the same error taxonomy as the HTTP transport.
func (g *GRPCClient) Predict(ctx context.Context, selection analysis.UploadSelection) (*Prediction, error) {
	const op = "classifier.grpc.predict"

	req, err := structpb.NewStruct(map[string]any{
		"file_name":    selection.FileName,
		"content_type": selection.ContentType,
		"image":        base64.StdEncoding.EncodeToString(selection.Data),
	})
	if err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError(op, "", mapStatus(err))
		g.logger.Error("prediction call failed", zap.Error(wrapped), zap.String("file_name", selection.FileName))
		return nil, wrapped
	}

	return &Prediction{
		Label:       resp.GetFields()["prediction"].GetStringValue(),
		Probability: resp.GetFields()["probability"].GetNumberValue(),
	}, nil
}

func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return networkError(err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return networkError(fmt.Errorf("%w: %w", context.DeadlineExceeded, err))
	case codes.Unavailable, codes.Canceled:
		return networkError(err)
	case codes.Internal:
		if isDecodeFailure(st.Message()) {
			return &malformedError{err: err}
		}
	}
	return &HTTPError{StatusCode: httpStatusFromCode(st.Code()), Body: st.Message()}
}

type malformedError struct{ err error }

func (e *malformedError) Error() string { return ErrMalformedResponse.Error() + ": " + e.err.Error() }
func (e *malformedError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.err}
}

// grpc reports a reply it cannot decode as Internal with this message prefix.
func isDecodeFailure(msg string) bool {
	return strings.HasPrefix(msg, "grpc: failed to unmarshal")
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
