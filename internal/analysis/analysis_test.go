package analysis

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLabelFromPrediction(t *testing.T) {
	cases := map[string]Label{
		"CANCER":  Positive,
		"NORMAL":  Negative,
		"cancer":  Negative,
		"CANCER ": Negative,
		"":        Negative,
		"CANCR":   Negative,
	}
	for in, want := range cases {
		if got := LabelFromPrediction(in); got != want {
			t.Errorf("LabelFromPrediction(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLabelDisplayText(t *testing.T) {
	if Positive.String() != "Cancer Detected" {
		t.Fatalf("unexpected positive text %q", Positive.String())
	}
	if Negative.String() != "No Cancer Detected" {
		t.Fatalf("unexpected negative text %q", Negative.String())
	}
}

func TestAllowedContentType(t *testing.T) {
	allowed := []string{"image/jpeg", "image/png", "image/png; charset=binary"}
	for _, ct := range allowed {
		if !AllowedContentType(ct) {
			t.Errorf("expected %q to be allowed", ct)
		}
	}
	rejected := []string{"", "image/gif", "image/jpg", "IMAGE/PNG ", "text/plain", "application/octet-stream", "image/webp"}
	for _, ct := range rejected {
		if AllowedContentType(ct) {
			t.Errorf("expected %q to be rejected", ct)
		}
	}
}

func TestDataURI(t *testing.T) {
	got := DataURI(MediaTypeJPEG, []byte("abc"))
	if got != "data:image/jpeg;base64,YWJj" {
		t.Fatalf("unexpected data uri %q", got)
	}
}

func TestClassificationResultJSON(t *testing.T) {
	res := NewClassificationResult("CANCER", 0.92, "scan.jpg")
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), `"prediction":"Cancer Detected"`) {
		t.Fatalf("unexpected json %s", raw)
	}
	if res.Confidence != 0.92 {
		t.Fatalf("confidence should pass through verbatim, got %v", res.Confidence)
	}
}
