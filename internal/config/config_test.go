package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.ClassifierURL != "http://localhost:8000" || cfg.ClassifierTransport != TransportHTTP {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ClassifierTimeout != 30*time.Second || cfg.SessionTTL != 30*time.Minute || cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected default limits %+v", cfg)
	}
	if cfg.OperatorAPIEnabled() {
		t.Fatal("operator API should be off without a secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLASSIFIER_TRANSPORT", "GRPC")
	t.Setenv("CLASSIFIER_TIMEOUT", "5s")
	t.Setenv("CLASSIFIER_RETRY_ATTEMPTS", "3")
	t.Setenv("PREVIEW_MAX_DIMENSION", "512")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClassifierTransport != TransportGRPC || cfg.ClassifierTimeout != 5*time.Second || cfg.RetryAttempts != 3 || cfg.PreviewMaxDimension != 512 {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if !cfg.OperatorAPIEnabled() {
		t.Fatal("operator API should be on with a secret")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SESSION_TTL":               "forever",
		"MAX_UPLOAD_BYTES":          "lots",
		"CLASSIFIER_TRANSPORT":      "carrier-pigeon",
		"CLASSIFIER_RETRY_ATTEMPTS": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error naming %s, got %v", key, err)
			}
		})
	}
}
