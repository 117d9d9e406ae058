package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"atelier/internal/domain"
)

// FileStore persists images onto the local filesystem and serves them from a
// static base URL. It is intended for development and test environments where
// an object storage service is not available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath. Uploaded files are
// addressable under baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Upload persists the provided bytes under folder, prefixing the filename
// with a random id to avoid collisions, and returns the public URL.
func (s *FileStore) Upload(ctx context.Context, data []byte, filename, folder string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty payload")
	}
	key, err := sanitizeKey(folder + "/" + uuid.NewString() + "-" + filepath.Base(filename))
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// ResolveLocalPath maps a URL previously returned by Upload back to the file
// on disk. URLs outside the store's base URL yield domain.ErrNotFound.
func (s *FileStore) ResolveLocalPath(url string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	url = strings.TrimSpace(url)
	if url == "" || !strings.HasPrefix(url, s.baseURL+"/") {
		return "", domain.ErrNotFound
	}
	key, err := sanitizeKey(strings.TrimPrefix(url, s.baseURL+"/"))
	if err != nil {
		return "", domain.ErrNotFound
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if _, err := os.Stat(fullPath); err != nil {
		return "", domain.ErrNotFound
	}
	return fullPath, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ domain.ImageStore = (*FileStore)(nil)
