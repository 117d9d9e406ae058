package domain

import "context"

// JobRepository defines persistence for customization jobs.
type JobRepository interface {
	Create(ctx context.Context, job *CustomizationJob) error
	Update(ctx context.Context, job *CustomizationJob) error
	GetByID(ctx context.Context, jobID string) (*CustomizationJob, error)
	GetByTryOnJobID(ctx context.Context, tryOnJobID string) (*CustomizationJob, error)
}

// ImageStore persists image bytes and resolves stored URLs back to local
// paths where the backend supports it.
type ImageStore interface {
	Upload(ctx context.Context, data []byte, filename, folder string) (string, error)
	// ResolveLocalPath maps a previously returned URL to a local filesystem
	// path. Backends without local files return ErrNotFound.
	ResolveLocalPath(url string) (string, error)
}
