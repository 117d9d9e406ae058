package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL missing")
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atelier")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atelier")
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RateLimitPerWindow != 10 {
		t.Fatalf("RateLimitPerWindow = %d, want 10", cfg.RateLimitPerWindow)
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Fatalf("RateLimitWindow = %s, want 60s", cfg.RateLimitWindow)
	}
	if cfg.StorageBackend != "file" {
		t.Fatalf("StorageBackend = %s, want file", cfg.StorageBackend)
	}
	if cfg.HTTPWriteTimeout <= 120*time.Second {
		t.Fatalf("write timeout %s must exceed the 120s polling budget", cfg.HTTPWriteTimeout)
	}
}

func TestLoadConfigMinioRequiresEndpoint(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atelier")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when MINIO_ENDPOINT missing")
	}
}
