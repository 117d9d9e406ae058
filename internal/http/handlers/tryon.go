package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type tryOnStartResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type tryOnStatusResponse struct {
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TryOnStart submits the job's finalized garment together with an uploaded
// person photo to the virtual try-on provider.
func (a *App) TryOnStart(w http.ResponseWriter, r *http.Request) {
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
	person, _, err := readUpload(r, "person_image")
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}

	res, err := a.Pipeline.StartTryOn(r.Context(), userID, jobID, person)
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, tryOnStartResponse{JobID: res.JobID, StatusURL: res.StatusURL})
}

// TryOnStatus proxies a status read to the try-on provider and reflects
// completion or failure onto the owning job.
func (a *App) TryOnStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	tryOnJobID := chi.URLParam(r, "tryon_job_id")
	if tryOnJobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "tryon_job_id required")
		return
	}

	status, err := a.Pipeline.GetTryOnStatus(r.Context(), tryOnJobID)
	if err != nil {
		a.pipelineError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, tryOnStatusResponse{
		Status:   status.Status,
		ImageURL: status.ImageURL,
		Message:  status.Message,
		Error:    status.Error,
	})
}
