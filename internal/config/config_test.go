package config

import (
	"testing"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.25 {
		t.Fatalf("expected 0.25, got %v", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "notafloat")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-float value, got nil")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreBackend != "sqlite" {
		t.Errorf("expected default StoreBackend sqlite, got %q", cfg.StoreBackend)
	}
	if cfg.EmbeddingProvider != "noop" {
		t.Errorf("expected default EmbeddingProvider noop, got %q", cfg.EmbeddingProvider)
	}
	if cfg.CandidateK != 8 {
		t.Errorf("expected default CandidateK 8, got %d", cfg.CandidateK)
	}
}

func TestValidateRejectsUnknownStoreBackend(t *testing.T) {
	cfg := Config{
		StoreBackend:        "mongo",
		EmbeddingProvider:   "noop",
		EmbeddingDimensions: 8,
		CandidateK:          8,
		ConfirmKappa:        0.1,
		DegradeKappa:        0.3,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store backend, got nil")
	}
}

func TestValidateRejectsOutOfRangeKappa(t *testing.T) {
	cfg := Config{
		StoreBackend:        "sqlite",
		SQLitePath:          "crt.db",
		EmbeddingProvider:   "noop",
		EmbeddingDimensions: 8,
		CandidateK:          8,
		ConfirmKappa:        1.5,
		DegradeKappa:        0.3,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range confirm kappa, got nil")
	}
}

func TestValidateAcceptsSQLiteDefaults(t *testing.T) {
	cfg := Config{
		StoreBackend:        "sqlite",
		SQLitePath:          "crt.db",
		EmbeddingProvider:   "ollama",
		EmbeddingDimensions: 768,
		CandidateK:          8,
		ConfirmKappa:        0.1,
		DegradeKappa:        0.3,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
