// Package ingest implements the document ingestion pipeline: text
// extraction, chunking, and the two-phase job protocol (create, populate,
// trigger) that batches files before processing starts.
package ingest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for ingestion operations. Check with errors.Is().
var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("ingestion job not found")

	// ErrInvalidTransition indicates a state change the job protocol
	// does not allow (e.g. triggering a job with no files).
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrNoFiles indicates a trigger on a job whose file list is empty.
	ErrNoFiles = errors.New("job has no files")

	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnsupportedType indicates a MIME type the extractor cannot handle.
	ErrUnsupportedType = errors.New("unsupported content type")
)

// JobState is the lifecycle state of an ingestion job.
//
// The two-phase create/trigger protocol is modeled as an explicit state
// machine so that multiple files can be batched before processing starts:
//
//	created -> populated -> triggered -> completed | failed
type JobState string

const (
	StateCreated   JobState = "created"
	StatePopulated JobState = "populated"
	StateTriggered JobState = "triggered"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the job protocol allows moving to next.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case StateCreated:
		return next == StatePopulated
	case StatePopulated:
		// Re-populating replaces the file list before trigger.
		return next == StatePopulated || next == StateTriggered
	case StateTriggered:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

// FileStatus tracks per-file progress within a job. A failed file does not
// abort the job; the failure is recorded and the remaining files proceed.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileDone       FileStatus = "done"
	FileFailed     FileStatus = "failed"
)

// FileDescriptor identifies one file attached to a job.
type FileDescriptor struct {
	FileName     string    `json:"fileName"`
	LastModified time.Time `json:"lastModified"`
	Connector    string    `json:"connector"`
}

// JobFile is a file descriptor plus its processing outcome.
type JobFile struct {
	FileDescriptor
	Status FileStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Job is an ingestion job record.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	KBID        uuid.UUID  `json:"knowledgeBase"`
	State       JobState   `json:"status"`
	Files       []JobFile  `json:"files,omitempty"`
	CreatedAt   time.Time  `json:"dateCreated"`
	TriggeredAt *time.Time `json:"dateTriggered,omitempty"`
	FinishedAt  *time.Time `json:"dateFinished,omitempty"`
}

// Document describes an ingested file as persisted in the documents table.
type Document struct {
	ID           uuid.UUID `json:"id"`
	KBID         uuid.UUID `json:"knowledgeBase"`
	FileName     string    `json:"fileName"`
	StoragePath  string    `json:"-"`
	ContentType  string    `json:"contentType"`
	Connector    string    `json:"connector"`
	LastModified time.Time `json:"lastModified"`
	IngestedAt   time.Time `json:"dateIngested"`
}
