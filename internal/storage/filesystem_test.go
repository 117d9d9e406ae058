package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"atelier/internal/domain"
)

func TestFileStoreUploadAndResolve(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	url, err := store.Upload(context.Background(), []byte("png-bytes"), "design.png", "designs")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/static/designs/") {
		t.Fatalf("unexpected url: %s", url)
	}

	path, err := store.ResolveLocalPath(url)
	if err != nil {
		t.Fatalf("ResolveLocalPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resolved file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestFileStoreResolveForeignURL(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.ResolveLocalPath("https://provider.example/result.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreRejectsEmptyPayload(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Upload(context.Background(), nil, "x.png", "designs"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestSanitizeKeyBlocksTraversal(t *testing.T) {
	if _, err := sanitizeKey("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	key, err := sanitizeKey("/designs//a.png")
	if err != nil {
		t.Fatalf("sanitizeKey: %v", err)
	}
	if key != "designs/a.png" {
		t.Fatalf("unexpected key: %s", key)
	}
}
