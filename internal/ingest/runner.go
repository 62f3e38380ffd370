package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openkb/openkb/internal/kb"
)

// fileConcurrency bounds how many files of one job are processed at once.
const fileConcurrency = 4

// jobTimeout caps the wall time of a single job run.
const jobTimeout = 30 * time.Minute

// Registry resolves knowledge bases for their chunking configuration.
type Registry interface {
	Get(ctx context.Context, id uuid.UUID) (kb.KnowledgeBase, error)
}

// BlobSource reads previously uploaded file contents.
type BlobSource interface {
	Read(ctx context.Context, kbID uuid.UUID, fileName string) (data []byte, contentType string, err error)
	Path(kbID uuid.UUID, fileName string) string
}

// Indexer embeds and persists the chunks of one document.
type Indexer interface {
	IndexChunks(ctx context.Context, kbID, documentID uuid.UUID, texts []string) error
}

// Runner executes triggered ingestion jobs in the background. Each job runs
// in its own goroutine detached from the triggering request; running jobs
// can be cancelled individually and are all awaited on Close.
type Runner struct {
	store  *Store
	kbs    Registry
	blobs  BlobSource
	index  Indexer
	logger *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a job runner.
func NewRunner(store *Store, kbs Registry, blobs BlobSource, index Indexer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   store,
		kbs:     kbs,
		blobs:   blobs,
		index:   index,
		logger:  logger,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Trigger moves the job to "triggered" and starts processing its files in
// the background. The returned job reflects the triggered state; progress
// is observed via GetJob.
func (r *Runner) Trigger(ctx context.Context, jobID uuid.UUID) (Job, error) {
	job, err := r.store.MarkTriggered(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if len(job.Files) == 0 {
		// Unreachable through SetFiles, but the state row could have been
		// touched out of band.
		_ = r.store.Finish(context.WithoutCancel(ctx), job.ID, StateFailed)
		return Job{}, ErrNoFiles
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)

	r.mu.Lock()
	r.running[job.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
		}()
		r.run(runCtx, job)
	}()

	return job, nil
}

// Cancel stops a running job. Returns false if the job is not running.
func (r *Runner) Cancel(jobID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close cancels all running jobs and waits for them to wind down.
func (r *Runner) Close() {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// run processes every file of a triggered job and records the terminal
// state. A failed file is recorded and skipped; the job fails only when no
// file succeeds.
func (r *Runner) run(ctx context.Context, job Job) {
	start := time.Now()
	logger := r.logger.With("job", job.ID, "kb", job.KBID)

	base, err := r.kbs.Get(ctx, job.KBID)
	if err != nil {
		logger.Error("resolving knowledge base", "error", err)
		r.finish(job.ID, StateFailed, logger)
		return
	}

	var (
		mu        sync.Mutex
		succeeded int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileConcurrency)

	for _, f := range job.Files {
		g.Go(func() error {
			if err := r.processFile(gctx, job, base, f); err != nil {
				logger.Warn("file ingestion failed", "file", f.FileName, "error", err)
				_ = r.store.UpdateFileStatus(context.WithoutCancel(gctx), job.ID, f.FileName, FileFailed, err.Error())
				return nil
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	state := StateCompleted
	if succeeded == 0 {
		state = StateFailed
	}
	r.finish(job.ID, state, logger)

	logger.Info("ingestion job finished",
		"state", state,
		"files", len(job.Files),
		"succeeded", succeeded,
		"duration", time.Since(start).Round(time.Millisecond))
}

func (r *Runner) finish(jobID uuid.UUID, state JobState, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Finish(ctx, jobID, state); err != nil {
		logger.Error("recording job outcome", "state", state, "error", err)
	}
}

// processFile runs one file through the extract, chunk, and index stages.
// A file whose lastModified has not advanced past its existing document
// record is marked done without re-embedding.
func (r *Runner) processFile(ctx context.Context, job Job, base kb.KnowledgeBase, f JobFile) error {
	if err := r.store.UpdateFileStatus(ctx, job.ID, f.FileName, FileProcessing, ""); err != nil {
		return err
	}

	if !f.LastModified.IsZero() {
		doc, err := r.store.GetDocumentByName(ctx, job.KBID, f.FileName)
		switch {
		case err == nil:
			if !f.LastModified.After(doc.LastModified) {
				return r.store.UpdateFileStatus(ctx, job.ID, f.FileName, FileDone, "")
			}
		case !errors.Is(err, ErrDocumentNotFound):
			return err
		}
	}

	data, contentType, err := r.blobs.Read(ctx, job.KBID, f.FileName)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	text, err := ExtractText(data, contentType)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	chunks := Chunk(text, base.Chunking)
	if len(chunks) == 0 {
		return fmt.Errorf("file %q produced no text", f.FileName)
	}

	docID, err := r.store.UpsertDocument(ctx, Document{
		KBID:         job.KBID,
		FileName:     f.FileName,
		StoragePath:  r.blobs.Path(job.KBID, f.FileName),
		ContentType:  contentType,
		Connector:    f.Connector,
		LastModified: f.LastModified,
	})
	if err != nil {
		return err
	}

	if err := r.index.IndexChunks(ctx, job.KBID, docID, chunks); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}

	return r.store.UpdateFileStatus(ctx, job.ID, f.FileName, FileDone, "")
}
