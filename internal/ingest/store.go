package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists ingestion jobs, their file lists, and document records.
// State transitions are enforced here so that no caller can skip a phase
// of the job protocol.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an ingestion store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateJob opens a new job for the knowledge base in state "created".
func (s *Store) CreateJob(ctx context.Context, kbID uuid.UUID) (Job, error) {
	job := Job{
		ID:        uuid.New(),
		KBID:      kbID,
		State:     StateCreated,
		CreatedAt: time.Now().UTC(),
	}

	const q = `
		INSERT INTO ingestion_jobs (id, kb_id, state, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, job.ID, job.KBID, string(job.State), job.CreatedAt); err != nil {
		return Job{}, fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created ingestion job", "job", job.ID, "kb", kbID)
	return job, nil
}

// SetFiles attaches (or replaces) the job's file list, moving it to
// "populated". Only jobs that have not been triggered accept files.
func (s *Store) SetFiles(ctx context.Context, jobID uuid.UUID, files []FileDescriptor) error {
	if len(files) == 0 {
		return ErrNoFiles
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var state string
	err = tx.QueryRow(ctx,
		`SELECT state FROM ingestion_jobs WHERE id = $1 FOR UPDATE`, jobID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("locking job %s: %w", jobID, err)
	}
	if !JobState(state).CanTransition(StatePopulated) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, StatePopulated)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ingestion_job_files WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clearing job files: %w", err)
	}
	const insertFile = `
		INSERT INTO ingestion_job_files (job_id, file_name, connector, last_modified, status)
		VALUES ($1, $2, $3, $4, $5)`
	for _, f := range files {
		connector := f.Connector
		if connector == "" {
			connector = "local"
		}
		if _, err := tx.Exec(ctx, insertFile, jobID, f.FileName, connector, f.LastModified, string(FilePending)); err != nil {
			return fmt.Errorf("inserting job file %q: %w", f.FileName, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs SET state = $2 WHERE id = $1`, jobID, string(StatePopulated),
	); err != nil {
		return fmt.Errorf("updating job state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing job files: %w", err)
	}

	s.logger.Debug("populated ingestion job", "job", jobID, "files", len(files))
	return nil
}

// MarkTriggered moves a populated job to "triggered". Returns the job with
// its files so the runner can start processing without a second round trip.
func (s *Store) MarkTriggered(ctx context.Context, jobID uuid.UUID) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var state string
	err = tx.QueryRow(ctx,
		`SELECT state FROM ingestion_jobs WHERE id = $1 FOR UPDATE`, jobID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("locking job %s: %w", jobID, err)
	}
	if !JobState(state).CanTransition(StateTriggered) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, StateTriggered)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs SET state = $2, triggered_at = $3 WHERE id = $1`,
		jobID, string(StateTriggered), now,
	); err != nil {
		return Job{}, fmt.Errorf("updating job state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("committing trigger: %w", err)
	}

	return s.GetJob(ctx, jobID)
}

// Finish records the terminal state of a triggered job.
func (s *Store) Finish(ctx context.Context, jobID uuid.UUID, state JobState) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: finish to non-terminal state %s", ErrInvalidTransition, state)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_jobs SET state = $2, finished_at = $3 WHERE id = $1 AND state = $4`,
		jobID, string(state), time.Now().UTC(), string(StateTriggered),
	)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not in triggered state", ErrInvalidTransition, jobID)
	}
	return nil
}

// UpdateFileStatus records per-file progress. errMsg is stored only for
// failed files.
func (s *Store) UpdateFileStatus(ctx context.Context, jobID uuid.UUID, fileName string, status FileStatus, errMsg string) error {
	if status != FileFailed {
		errMsg = ""
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE ingestion_job_files SET status = $3, error = $4 WHERE job_id = $1 AND file_name = $2`,
		jobID, fileName, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("updating file status %q: %w", fileName, err)
	}
	return nil
}

// GetJob returns a job with its file list.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (Job, error) {
	var job Job
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT id, kb_id, state, created_at, triggered_at, finished_at
		 FROM ingestion_jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.KBID, &state, &job.CreatedAt, &job.TriggeredAt, &job.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("querying job %s: %w", jobID, err)
	}
	job.State = JobState(state)

	rows, err := s.pool.Query(ctx,
		`SELECT file_name, connector, last_modified, status, error
		 FROM ingestion_job_files WHERE job_id = $1 ORDER BY file_name`, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("querying job files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f JobFile
		var status string
		var lastModified *time.Time
		if err := rows.Scan(&f.FileName, &f.Connector, &lastModified, &status, &f.Error); err != nil {
			return Job{}, fmt.Errorf("scanning job file row: %w", err)
		}
		if lastModified != nil {
			f.LastModified = *lastModified
		}
		f.Status = FileStatus(status)
		job.Files = append(job.Files, f)
	}
	if err := rows.Err(); err != nil {
		return Job{}, fmt.Errorf("iterating job file rows: %w", err)
	}
	return job, nil
}

// ListJobs returns the jobs of a knowledge base, newest first, without
// their file lists.
func (s *Store) ListJobs(ctx context.Context, kbID uuid.UUID) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kb_id, state, created_at, triggered_at, finished_at
		 FROM ingestion_jobs WHERE kb_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var state string
		if err := rows.Scan(&job.ID, &job.KBID, &state, &job.CreatedAt, &job.TriggeredAt, &job.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		job.State = JobState(state)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

// UpsertDocument inserts or refreshes the document record for a file and
// returns its id. Re-ingesting a file keeps its document id stable so
// existing references remain valid.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (uuid.UUID, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	const q = `
		INSERT INTO documents (id, kb_id, file_name, storage_path, content_type, connector, last_modified, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (kb_id, file_name) DO UPDATE
		SET storage_path = EXCLUDED.storage_path,
		    content_type = EXCLUDED.content_type,
		    connector = EXCLUDED.connector,
		    last_modified = EXCLUDED.last_modified,
		    ingested_at = now()
		RETURNING id`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, q,
		doc.ID, doc.KBID, doc.FileName, doc.StoragePath,
		doc.ContentType, doc.Connector, doc.LastModified,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting document %q: %w", doc.FileName, err)
	}
	return id, nil
}

// GetDocumentByName resolves a file name within a knowledge base.
func (s *Store) GetDocumentByName(ctx context.Context, kbID uuid.UUID, fileName string) (Document, error) {
	const q = `
		SELECT id, kb_id, file_name, storage_path, content_type, connector, last_modified, ingested_at
		FROM documents WHERE kb_id = $1 AND file_name = $2`

	var doc Document
	var lastModified *time.Time
	err := s.pool.QueryRow(ctx, q, kbID, fileName).Scan(
		&doc.ID, &doc.KBID, &doc.FileName, &doc.StoragePath,
		&doc.ContentType, &doc.Connector, &lastModified, &doc.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("document %q: %w", fileName, ErrDocumentNotFound)
		}
		return Document{}, fmt.Errorf("querying document %q: %w", fileName, err)
	}
	if lastModified != nil {
		doc.LastModified = *lastModified
	}
	return doc, nil
}
