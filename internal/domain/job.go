package domain

import "time"

// JobStatus enumerates the lifecycle states of a customization job.
type JobStatus string

const (
	JobStatusPendingGeneration     JobStatus = "pending_generation"
	JobStatusDesignGenerated       JobStatus = "design_generated"
	JobStatusGarmentGenerated      JobStatus = "garment_generated"
	JobStatusProductImageGenerated JobStatus = "product_image_generated"
	JobStatusTryOnStarted          JobStatus = "tryon_started"
	JobStatusCompleted             JobStatus = "completed"
	JobStatusFailed                JobStatus = "failed"
)

// CustomizationJob tracks one user's customization request from prompt to
// photorealistic try-on preview.
type CustomizationJob struct {
	ID     string
	UserID string

	Prompt            string
	SourceGarmentPath string

	DesignImageURL       string
	GeneratedGarmentURL  string
	FinalProductImageURL string

	ProviderRequestID string
	TryOnJobID        string
	TryOnStatusURL    string
	TryOnResultURL    string

	Status    JobStatus
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// forwardTransitions lists the allowed forward edges of the job state graph.
// Failed is reachable from every non-terminal state; Failed and Completed are
// terminal.
var forwardTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingGeneration:     {JobStatusDesignGenerated, JobStatusGarmentGenerated},
	JobStatusDesignGenerated:       {JobStatusProductImageGenerated},
	JobStatusGarmentGenerated:      {JobStatusProductImageGenerated},
	JobStatusProductImageGenerated: {JobStatusTryOnStarted},
	JobStatusTryOnStarted:          {JobStatusCompleted},
}

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the state graph permits moving from -> to.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the job to the given status, enforcing forward-only movement.
func (j *CustomizationJob) Advance(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the job failed with the given reason. It is a no-op on jobs that
// already reached a terminal state.
func (j *CustomizationJob) Fail(reason string) {
	if j.Status.Terminal() {
		return
	}
	j.Status = JobStatusFailed
	j.LastError = reason
	j.UpdatedAt = time.Now().UTC()
}

// OwnedBy reports whether the job belongs to the given user.
func (j *CustomizationJob) OwnedBy(userID string) bool {
	return j != nil && userID != "" && j.UserID == userID
}
