package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"atelier/internal/domain"
)

// maxUploadBytes caps a single uploaded image.
const maxUploadBytes = 8 << 20

var allowedUploadExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// readUpload pulls one image file out of the multipart form and enforces the
// extension whitelist and size cap.
func readUpload(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("%w: invalid multipart form", domain.ErrValidation)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s file is required", domain.ErrValidation, field)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedUploadExts[ext]; !ok {
		return nil, "", fmt.Errorf("%w: unsupported image type %q", domain.ErrValidation, ext)
	}
	if header.Size > maxUploadBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", domain.ErrValidation, maxUploadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", domain.ErrValidation, maxUploadBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %s file is empty", domain.ErrValidation, field)
	}
	return data, header.Filename, nil
}
