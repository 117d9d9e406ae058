package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new customization job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.CustomizationJob) error {
	query := `
INSERT INTO customization_jobs (
    id, user_id, prompt, source_garment_path, design_image_url, generated_garment_url,
    final_product_image_url, provider_request_id, tryon_job_id, tryon_status_url,
    tryon_result_url, status, last_error, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Prompt,
		job.SourceGarmentPath,
		job.DesignImageURL,
		job.GeneratedGarmentURL,
		job.FinalProductImageURL,
		job.ProviderRequestID,
		job.TryOnJobID,
		job.TryOnStatusURL,
		job.TryOnResultURL,
		job.Status,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Update writes every mutable field of the job back to the row.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.CustomizationJob) error {
	query := `
UPDATE customization_jobs
SET source_garment_path = $2,
    design_image_url = $3,
    generated_garment_url = $4,
    final_product_image_url = $5,
    provider_request_id = $6,
    tryon_job_id = $7,
    tryon_status_url = $8,
    tryon_result_url = $9,
    status = $10,
    last_error = $11,
    updated_at = $12
WHERE id = $1;
`
	job.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.SourceGarmentPath,
		job.DesignImageURL,
		job.GeneratedGarmentURL,
		job.FinalProductImageURL,
		job.ProviderRequestID,
		job.TryOnJobID,
		job.TryOnStatusURL,
		job.TryOnResultURL,
		job.Status,
		job.LastError,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.CustomizationJob, error) {
	row := r.pool.QueryRow(ctx, selectJob+`WHERE id = $1;`, jobID)
	return scanJob(row)
}

// GetByTryOnJobID fetches the job that owns a provider try-on job.
func (r *JobRepositoryPG) GetByTryOnJobID(ctx context.Context, tryOnJobID string) (*domain.CustomizationJob, error) {
	row := r.pool.QueryRow(ctx, selectJob+`WHERE tryon_job_id = $1;`, tryOnJobID)
	return scanJob(row)
}

const selectJob = `
SELECT id, user_id, prompt, source_garment_path, design_image_url, generated_garment_url,
       final_product_image_url, provider_request_id, tryon_job_id, tryon_status_url,
       tryon_result_url, status, last_error, created_at, updated_at
FROM customization_jobs
`

func scanJob(row pgx.Row) (*domain.CustomizationJob, error) {
	var job domain.CustomizationJob
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.SourceGarmentPath,
		&job.DesignImageURL,
		&job.GeneratedGarmentURL,
		&job.FinalProductImageURL,
		&job.ProviderRequestID,
		&job.TryOnJobID,
		&job.TryOnStatusURL,
		&job.TryOnResultURL,
		&job.Status,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
