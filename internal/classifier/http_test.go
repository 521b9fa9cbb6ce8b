package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
	"github.com/example/boneguard/internal/logging"
)

func testSelection() analysis.UploadSelection {
	return analysis.UploadSelection{
		FileName:    "knee.jpg",
		ContentType: analysis.MediaTypeJPEG,
		Data:        []byte{0xff, 0xd8, 0xff, 0xe0},
	}
}

func newTestHTTPClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestHTTPPredictSendsMultipartFile(t *testing.T) {
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile(FormField)
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "knee.jpg" || header.Header.Get("Content-Type") != analysis.MediaTypeJPEG || len(data) != 4 {
			t.Errorf("unexpected part: %s %s %d", header.Filename, header.Header.Get("Content-Type"), len(data))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":"CANCER","probability":0.92}`))
	})

	pred, err := client.Predict(context.Background(), testSelection())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if pred.Label != "CANCER" || pred.Probability != 0.92 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestHTTPPredictSurfacesRawBodyOnErrorStatus(t *testing.T) {
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"cannot identify image file"}`))
	})

	_, err := client.Predict(context.Background(), testSelection())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError || httpErr.Body != `{"detail":"cannot identify image file"}` {
		t.Fatalf("unexpected http error %+v", httpErr)
	}
	if Kind(err) != KindHTTP {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
	if logging.OperationOf(err) != "classifier.http.predict" {
		t.Fatalf("unexpected operation %s", logging.OperationOf(err))
	}
}

func TestHTTPPredictMalformedBody(t *testing.T) {
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})

	_, err := client.Predict(context.Background(), testSelection())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
	if Kind(err) != KindMalformed {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
}

func TestHTTPPredictOtherShapeStillSucceeds(t *testing.T) {
	for _, body := range []string{`{"label":"CANCER","score":"high"}`, "[1,2]", `"CANCER"`} {
		client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})

		pred, err := client.Predict(context.Background(), testSelection())
		if err != nil {
			t.Fatalf("body %q: expected success, got %v", body, err)
		}
		if pred.Label != "" || pred.Probability != 0 {
			t.Fatalf("body %q: expected zero prediction, got %+v", body, pred)
		}
	}
}

func TestHTTPPredictNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := NewHTTPClient(baseURL, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	_, err = client.Predict(context.Background(), testSelection())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestHTTPPredictTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewHTTPClient(srv.URL, 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	_, err = client.Predict(context.Background(), testSelection())
	if Kind(err) != KindNetwork {
		t.Fatalf("expected network kind, got %s (%v)", Kind(err), err)
	}
}

func TestNewHTTPClientRejectsBadScheme(t *testing.T) {
	if _, err := NewHTTPClient("ftp://example.com", time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestEndpointJoinsPredictPath(t *testing.T) {
	client, err := NewHTTPClient("http://classifier:8000/", 0, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Endpoint() != "http://classifier:8000/predict" {
		t.Fatalf("unexpected endpoint %s", client.Endpoint())
	}
}

func TestDecodePrediction(t *testing.T) {
	for _, body := range []string{"", "{", "<html>oops</html>", `{"prediction":`} {
		if _, err := DecodePrediction([]byte(body)); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("body %q: expected malformed, got %v", body, err)
		}
	}
	for _, body := range []string{"null", "[1,2]", "42", `"CANCER"`, "true", `{"prediction":1,"probability":"high"}`} {
		pred, err := DecodePrediction([]byte(body))
		if err != nil {
			t.Errorf("body %q: well-formed JSON must not fail, got %v", body, err)
			continue
		}
		if pred.Label != "" || pred.Probability != 0 {
			t.Errorf("body %q: expected empty prediction, got %+v", body, pred)
		}
	}
	pred, err := DecodePrediction([]byte(`{"prediction":"NORMAL","probability":0.0412}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Label != "NORMAL" || pred.Probability != 0.0412 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}
