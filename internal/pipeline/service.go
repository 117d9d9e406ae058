package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/providers/genimage"
	"atelier/internal/providers/tryon"
)

// Prompt framing appended to user prompts so the provider produces
// print-ready artwork rather than scene renderings.
const (
	designPromptSuffix = ", professional graphic design, centered composition, transparent background, print-ready, no clothing, no model, no background scene"

	designNegativePrompt = "clothing, model, person, mannequin, background scene, watermark, text artifacts"

	applyDesignPrompt = "Apply the printed design onto the garment exactly as placed. Preserve the original garment color, fabric texture and lighting. Do not move or restyle the design."

	garmentPromptSuffix = ", printed on the garment, keep the garment's original color, cut and fabric"
)

// Default generation parameters.
const (
	defaultWidth    = 1024
	defaultHeight   = 1024
	defaultGuidance = 7.5
	defaultSteps    = 30
)

type generativeClient interface {
	SubmitTextToImage(ctx context.Context, req genimage.TextToImageRequest) (string, error)
	SubmitImageToImage(ctx context.Context, req genimage.ImageToImageRequest) (string, error)
	WaitForResult(ctx context.Context, requestID string) (string, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

type tryOnClient interface {
	StartTryOn(ctx context.Context, req tryon.StartRequest) (*tryon.StartResult, error)
	GetStatus(ctx context.Context, jobID string) (*tryon.StatusResult, error)
}

type imageCompositor interface {
	ComposeDesignOntoGarment(garment, design []byte) ([]byte, error)
	RecoverOriginalColorWithGeneratedPrint(original, generated []byte) ([]byte, error)
}

// Service orchestrates the customization pipeline: it drives the generative
// image and try-on providers against the job entity, composites pixels and
// persists artifacts.
type Service struct {
	jobs   domain.JobRepository
	images domain.ImageStore
	gen    generativeClient
	tryon  tryOnClient
	comp   imageCompositor
	logger *infra.Logger
}

// NewService wires the pipeline orchestrator.
func NewService(jobs domain.JobRepository, images domain.ImageStore, gen generativeClient, try tryOnClient, comp imageCompositor, logger *infra.Logger) *Service {
	return &Service{jobs: jobs, images: images, gen: gen, tryon: try, comp: comp, logger: logger}
}

// DesignResult is returned by GenerateDesignFromPrompt.
type DesignResult struct {
	JobID          string
	DesignImageURL string
}

// ProductResult is returned by the two garment generation operations.
type ProductResult struct {
	JobID                string
	FinalProductImageURL string
}

// TryOnStartResult acknowledges a submitted try-on.
type TryOnStartResult struct {
	JobID     string
	StatusURL string
}

// GenerateDesignFromPrompt creates a job and generates a standalone,
// print-ready design graphic from the prompt.
func (s *Service) GenerateDesignFromPrompt(ctx context.Context, userID, prompt string) (*DesignResult, error) {
	userID = strings.TrimSpace(userID)
	prompt = strings.TrimSpace(prompt)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}

	job := s.newJob(userID, prompt)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	requestID, err := s.gen.SubmitTextToImage(ctx, genimage.TextToImageRequest{
		Prompt:         prompt + designPromptSuffix,
		NegativePrompt: designNegativePrompt,
		Width:          defaultWidth,
		Height:         defaultHeight,
		Guidance:       defaultGuidance,
		Steps:          defaultSteps,
	})
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	job.ProviderRequestID = requestID
	s.persist(ctx, job)

	resultURL, err := s.gen.WaitForResult(ctx, requestID)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	data, err := s.gen.FetchImage(ctx, resultURL)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	designURL, err := s.images.Upload(ctx, data, "design.png", "designs")
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	job.DesignImageURL = designURL
	if err := job.Advance(domain.JobStatusDesignGenerated); err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("design_url", designURL).
		Msg("pipeline: design generated")
	return &DesignResult{JobID: job.ID, DesignImageURL: designURL}, nil
}

// ApplyDesignToGarment composites the job's design onto the uploaded garment
// photo, sends the composite through the provider and color-corrects the
// result against the original garment.
func (s *Service) ApplyDesignToGarment(ctx context.Context, userID, jobID string, garmentImage []byte) (*ProductResult, error) {
	if len(garmentImage) == 0 {
		return nil, fmt.Errorf("%w: garment image is required", domain.ErrValidation)
	}
	job, err := s.loadOwnedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.DesignImageURL == "" {
		return nil, fmt.Errorf("%w: job has no design image to apply", domain.ErrValidation)
	}

	design, err := s.loadImage(ctx, job.DesignImageURL)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	garmentURL, err := s.images.Upload(ctx, garmentImage, "garment.png", "garments")
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	job.SourceGarmentPath = garmentURL

	composed, err := s.comp.ComposeDesignOntoGarment(garmentImage, design)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	finalURL, err := s.generateProductImage(ctx, job, applyDesignPrompt, composed, garmentImage)
	if err != nil {
		return nil, err
	}
	return &ProductResult{JobID: job.ID, FinalProductImageURL: finalURL}, nil
}

// GenerateGarmentFromPrompt is the single-call alternative that skips the
// standalone design step and sends the garment photo straight through
// image-to-image generation.
func (s *Service) GenerateGarmentFromPrompt(ctx context.Context, userID, prompt string, garmentImage []byte) (*ProductResult, error) {
	userID = strings.TrimSpace(userID)
	prompt = strings.TrimSpace(prompt)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if len(garmentImage) == 0 {
		return nil, fmt.Errorf("%w: garment image is required", domain.ErrValidation)
	}

	job := s.newJob(userID, prompt)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	garmentURL, err := s.images.Upload(ctx, garmentImage, "garment.png", "garments")
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	job.SourceGarmentPath = garmentURL

	requestID, err := s.gen.SubmitImageToImage(ctx, genimage.ImageToImageRequest{
		Prompt:   prompt + garmentPromptSuffix,
		Steps:    defaultSteps,
		Image:    garmentImage,
		Filename: "garment.png",
	})
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	job.ProviderRequestID = requestID
	s.persist(ctx, job)

	resultURL, err := s.gen.WaitForResult(ctx, requestID)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	raw, err := s.gen.FetchImage(ctx, resultURL)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	job.GeneratedGarmentURL = resultURL
	if err := job.Advance(domain.JobStatusGarmentGenerated); err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	s.persist(ctx, job)

	final := s.recoverColor(job.ID, garmentImage, raw)
	finalURL, err := s.images.Upload(ctx, final, "product.png", "products")
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	job.FinalProductImageURL = finalURL
	if err := job.Advance(domain.JobStatusProductImageGenerated); err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("product_url", finalURL).
		Msg("pipeline: garment generated directly from prompt")
	return &ProductResult{JobID: job.ID, FinalProductImageURL: finalURL}, nil
}

// StartTryOn submits the finalized garment and the person photo to the
// virtual try-on provider.
func (s *Service) StartTryOn(ctx context.Context, userID, jobID string, personImage []byte) (*TryOnStartResult, error) {
	if len(personImage) == 0 {
		return nil, fmt.Errorf("%w: person image is required", domain.ErrValidation)
	}
	job, err := s.loadOwnedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.FinalProductImageURL == "" {
		return nil, fmt.Errorf("%w: job has no finalized garment image", domain.ErrValidation)
	}

	garment, err := s.loadImage(ctx, job.FinalProductImageURL)
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	result, err := s.tryon.StartTryOn(ctx, tryon.StartRequest{
		PersonImage:     personImage,
		PersonFileName:  "person.png",
		GarmentImage:    garment,
		GarmentFileName: "garment.png",
	})
	if err != nil {
		return nil, s.failJob(ctx, job, err)
	}

	job.TryOnJobID = result.JobID
	job.TryOnStatusURL = result.StatusURL
	if err := job.Advance(domain.JobStatusTryOnStarted); err != nil {
		return nil, s.failJob(ctx, job, err)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("tryon_job_id", result.JobID).
		Msg("pipeline: try-on started")
	return &TryOnStartResult{JobID: job.ID, StatusURL: result.StatusURL}, nil
}

// GetTryOnStatus reads the provider's status for a try-on job. Completion and
// failure are reflected onto the owning customization job, but lookup
// problems never fail the status read itself.
func (s *Service) GetTryOnStatus(ctx context.Context, tryOnJobID string) (*tryon.StatusResult, error) {
	tryOnJobID = strings.TrimSpace(tryOnJobID)
	if tryOnJobID == "" {
		return nil, fmt.Errorf("%w: try-on job id is required", domain.ErrValidation)
	}

	status, err := s.tryon.GetStatus(ctx, tryOnJobID)
	if err != nil {
		return nil, err
	}

	switch {
	case status.Completed():
		s.completeTryOn(ctx, tryOnJobID, status)
	case status.Failed():
		s.failTryOn(ctx, tryOnJobID, status)
	}
	return status, nil
}

func (s *Service) completeTryOn(ctx context.Context, tryOnJobID string, status *tryon.StatusResult) {
	job, err := s.jobs.GetByTryOnJobID(ctx, tryOnJobID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("tryon_job_id", tryOnJobID).
			Msg("pipeline: try-on completed but owning job lookup failed")
		return
	}
	resultURL := status.ImageURL
	if resultURL == "" && status.ImageBase64 != "" {
		if data, decodeErr := base64.StdEncoding.DecodeString(status.ImageBase64); decodeErr == nil {
			if url, upErr := s.images.Upload(ctx, data, "tryon.png", "tryon"); upErr == nil {
				resultURL = url
			} else {
				s.logger.Warn().Err(upErr).Str("job_id", job.ID).Msg("pipeline: persisting try-on result failed")
			}
		}
	}
	job.TryOnResultURL = resultURL
	if err := job.Advance(domain.JobStatusCompleted); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: job already terminal on try-on completion")
		return
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: persisting try-on completion failed")
	}
}

func (s *Service) failTryOn(ctx context.Context, tryOnJobID string, status *tryon.StatusResult) {
	job, err := s.jobs.GetByTryOnJobID(ctx, tryOnJobID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("tryon_job_id", tryOnJobID).
			Msg("pipeline: try-on failed but owning job lookup failed")
		return
	}
	job.Fail(status.FailureReason())
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: persisting try-on failure failed")
	}
}

// generateProductImage runs the shared tail of the two garment paths: submit
// the composite through img2img, poll, color-correct and persist.
func (s *Service) generateProductImage(ctx context.Context, job *domain.CustomizationJob, prompt string, composite, originalGarment []byte) (string, error) {
	requestID, err := s.gen.SubmitImageToImage(ctx, genimage.ImageToImageRequest{
		Prompt:   prompt,
		Steps:    defaultSteps,
		Image:    composite,
		Filename: "composite.png",
	})
	if err != nil {
		return "", s.failJob(ctx, job, err)
	}
	job.ProviderRequestID = requestID
	s.persist(ctx, job)

	resultURL, err := s.gen.WaitForResult(ctx, requestID)
	if err != nil {
		return "", s.failJob(ctx, job, err)
	}
	raw, err := s.gen.FetchImage(ctx, resultURL)
	if err != nil {
		return "", s.failJob(ctx, job, err)
	}
	job.GeneratedGarmentURL = resultURL

	final := s.recoverColor(job.ID, originalGarment, raw)
	finalURL, err := s.images.Upload(ctx, final, "product.png", "products")
	if err != nil {
		return "", s.failJob(ctx, job, err)
	}

	job.FinalProductImageURL = finalURL
	if err := job.Advance(domain.JobStatusProductImageGenerated); err != nil {
		return "", s.failJob(ctx, job, err)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return "", fmt.Errorf("update job: %w", err)
	}
	return finalURL, nil
}

// recoverColor runs the chroma-key post-process as best effort. Any failure
// is logged and the provider's raw result is used instead.
func (s *Service) recoverColor(jobID string, original, generated []byte) []byte {
	recovered, err := s.comp.RecoverOriginalColorWithGeneratedPrint(original, generated)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Msg("pipeline: color recovery failed, using raw provider result")
		return generated
	}
	if len(recovered) == 0 {
		return generated
	}
	return recovered
}

func (s *Service) newJob(userID, prompt string) *domain.CustomizationJob {
	now := time.Now().UTC()
	return &domain.CustomizationJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    prompt,
		Status:    domain.JobStatusPendingGeneration,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// loadOwnedJob fetches the job and enforces ownership. Cross-user access is
// reported as not found so job ids cannot be probed.
func (s *Service) loadOwnedJob(ctx context.Context, userID, jobID string) (*domain.CustomizationJob, error) {
	userID = strings.TrimSpace(userID)
	jobID = strings.TrimSpace(jobID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.OwnedBy(userID) {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// loadImage resolves a stored URL to bytes, preferring the local file when
// the store has one and falling back to an HTTP fetch.
func (s *Service) loadImage(ctx context.Context, url string) ([]byte, error) {
	if path, err := s.images.ResolveLocalPath(url); err == nil {
		return readFile(path)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.gen.FetchImage(ctx, url)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local image: %w", err)
	}
	return data, nil
}

// failJob marks the job failed with the error's message, persists it and
// passes the original error back to the caller.
func (s *Service) failJob(ctx context.Context, job *domain.CustomizationJob, cause error) error {
	job.Fail(cause.Error())
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("pipeline: persisting failed job state failed")
	}
	s.logger.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("pipeline: stage failed")
	return cause
}

// persist saves intermediate job fields; failures are logged, the pipeline
// carries on with the in-memory job.
func (s *Service) persist(ctx context.Context, job *domain.CustomizationJob) {
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("pipeline: persisting intermediate job state failed")
	}
}
