package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/middleware"
	"atelier/internal/pipeline"
)

type App struct {
	Pipeline *pipeline.Service
	Jobs     domain.JobRepository
	Logger   *infra.Logger
}

func NewApp(p *pipeline.Service, jobs domain.JobRepository, logger *infra.Logger) *App {
	return &App{Pipeline: p, Jobs: jobs, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

// pipelineError maps domain errors onto HTTP responses. Provider failures
// never leak response bodies to the client.
func (a *App) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrRateLimited):
		a.error(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, domain.ErrPollTimeout), errors.Is(err, domain.ErrProviderFailure):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: provider failure")
		a.error(w, http.StatusBadGateway, "provider_failure", "image provider failed to produce a result")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
