package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"atelier/internal/domain"
)

type designGenerateRequest struct {
	Prompt string `json:"prompt"`
}

type designResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	DesignImageURL string `json:"design_image_url"`
}

type productResponse struct {
	JobID                string `json:"job_id"`
	Status               string `json:"status"`
	FinalProductImageURL string `json:"final_product_image_url"`
}

// DesignGenerate creates a customization job and generates a standalone
// design graphic from the prompt.
func (a *App) DesignGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req designGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}

	res, err := a.Pipeline.GenerateDesignFromPrompt(r.Context(), userID, req.Prompt)
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, designResponse{
		JobID:          res.JobID,
		Status:         string(domain.JobStatusDesignGenerated),
		DesignImageURL: res.DesignImageURL,
	})
}

// DesignApply composites the job's design onto an uploaded garment photo and
// runs it through generation.
func (a *App) DesignApply(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	garment, _, err := readUpload(r, "garment_image")
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}

	res, err := a.Pipeline.ApplyDesignToGarment(r.Context(), userID, jobID, garment)
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, productResponse{
		JobID:                res.JobID,
		Status:               string(domain.JobStatusProductImageGenerated),
		FinalProductImageURL: res.FinalProductImageURL,
	})
}

// GarmentGenerate is the single-call path: prompt plus garment photo in one
// multipart request, no standalone design step.
func (a *App) GarmentGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	garment, _, err := readUpload(r, "garment_image")
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}

	res, err := a.Pipeline.GenerateGarmentFromPrompt(r.Context(), userID, prompt, garment)
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, productResponse{
		JobID:                res.JobID,
		Status:               string(domain.JobStatusProductImageGenerated),
		FinalProductImageURL: res.FinalProductImageURL,
	})
}

// JobStatus returns the caller's view of a customization job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || !job.OwnedBy(userID) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":                  job.ID,
		"status":                  string(job.Status),
		"prompt":                  job.Prompt,
		"design_image_url":        job.DesignImageURL,
		"generated_garment_url":   job.GeneratedGarmentURL,
		"final_product_image_url": job.FinalProductImageURL,
		"tryon_job_id":            job.TryOnJobID,
		"tryon_result_url":        job.TryOnResultURL,
		"last_error":              job.LastError,
		"created_at":              job.CreatedAt,
		"updated_at":              job.UpdatedAt,
	})
}
