package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/ingest"
)

// JobStore is the ingestion job surface the handlers need.
type JobStore interface {
	CreateJob(ctx context.Context, kbID uuid.UUID) (ingest.Job, error)
	SetFiles(ctx context.Context, jobID uuid.UUID, files []ingest.FileDescriptor) error
	GetJob(ctx context.Context, jobID uuid.UUID) (ingest.Job, error)
	ListJobs(ctx context.Context, kbID uuid.UUID) ([]ingest.Job, error)
}

// JobRunner triggers background processing of a populated job.
type JobRunner interface {
	Trigger(ctx context.Context, jobID uuid.UUID) (ingest.Job, error)
}

type jobHandler struct {
	jobs   JobStore
	runner JobRunner
	kbs    KBStore
	logger *slog.Logger
}

func (h *jobHandler) create(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathUUID(w, r, "kb", h.logger)
	if !ok {
		return
	}
	if _, err := h.kbs.Get(r.Context(), kbID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), kbID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"jobId": job.ID.String()})
}

// populate attaches the file list to a created job.
func (h *jobHandler) populate(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobId", h.logger)
	if !ok {
		return
	}

	var files []ingest.FileDescriptor
	if err := json.NewDecoder(r.Body).Decode(&files); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON array of files", h.logger)
		return
	}

	if err := h.jobs.SetFiles(r.Context(), jobID, files); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// trigger starts background processing of a populated job.
func (h *jobHandler) trigger(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobId", h.logger)
	if !ok {
		return
	}

	job, err := h.runner.Trigger(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *jobHandler) get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobId", h.logger)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *jobHandler) list(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathUUID(w, r, "kb", h.logger)
	if !ok {
		return
	}
	jobs, err := h.jobs.ListJobs(r.Context(), kbID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if jobs == nil {
		jobs = []ingest.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}
