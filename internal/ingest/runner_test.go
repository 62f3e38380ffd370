package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkb/openkb/internal/ingest"
	"github.com/openkb/openkb/internal/kb"
	"github.com/openkb/openkb/internal/testutil"
)

type stubRegistry struct {
	base kb.KnowledgeBase
}

func (s *stubRegistry) Get(context.Context, uuid.UUID) (kb.KnowledgeBase, error) {
	return s.base, nil
}

type memBlobs struct {
	mu      sync.Mutex
	reads   int
	content map[string][]byte
}

func (m *memBlobs) Read(_ context.Context, _ uuid.UUID, fileName string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.content[fileName], "text/plain", nil
}

func (m *memBlobs) Path(kbID uuid.UUID, fileName string) string {
	return "/blobs/" + kbID.String() + "/" + fileName
}

func (m *memBlobs) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

type countingIndexer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingIndexer) IndexChunks(context.Context, uuid.UUID, uuid.UUID, []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingIndexer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// runJob drives one file through the full job protocol and waits for the
// terminal state.
func runJob(t *testing.T, runner *ingest.Runner, store *ingest.Store, kbID uuid.UUID, file ingest.FileDescriptor) ingest.Job {
	t.Helper()
	ctx := context.Background()

	job, err := store.CreateJob(ctx, kbID)
	require.NoError(t, err)
	require.NoError(t, store.SetFiles(ctx, job.ID, []ingest.FileDescriptor{file}))

	_, err = runner.Trigger(ctx, job.ID)
	require.NoError(t, err)

	var done ingest.Job
	require.Eventually(t, func() bool {
		done, err = store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		return done.State.Terminal()
	}, 20*time.Second, 50*time.Millisecond)
	return done
}

func TestRunnerSkipsUnchangedFiles(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.DiscardLogger()
	base, err := kb.NewStore(tdb.Pool, logger).Create(
		context.Background(), "docs", kb.TypeQuery, kb.ChunkConfig{Size: 400, Overlap: 200})
	require.NoError(t, err)

	store := ingest.NewStore(tdb.Pool, logger)
	blobs := &memBlobs{content: map[string][]byte{
		"guide.txt": []byte("pgvector stores embeddings inside postgres."),
	}}
	index := &countingIndexer{}
	runner := ingest.NewRunner(store, &stubRegistry{base: base}, blobs, index, logger)
	t.Cleanup(runner.Close)

	modified := time.Now().UTC().Truncate(time.Second)
	file := ingest.FileDescriptor{FileName: "guide.txt", LastModified: modified, Connector: "local"}

	first := runJob(t, runner, store, base.ID, file)
	assert.Equal(t, ingest.StateCompleted, first.State)
	require.Len(t, first.Files, 1)
	assert.Equal(t, ingest.FileDone, first.Files[0].Status)
	assert.Equal(t, 1, index.callCount())
	assert.Equal(t, 1, blobs.readCount())

	// Same file, same timestamp: the document record is current, so the
	// job completes without touching the blob or the embedder.
	second := runJob(t, runner, store, base.ID, file)
	assert.Equal(t, ingest.StateCompleted, second.State)
	require.Len(t, second.Files, 1)
	assert.Equal(t, ingest.FileDone, second.Files[0].Status)
	assert.Equal(t, 1, index.callCount())
	assert.Equal(t, 1, blobs.readCount())

	// A newer timestamp re-ingests.
	file.LastModified = modified.Add(time.Hour)
	third := runJob(t, runner, store, base.ID, file)
	assert.Equal(t, ingest.StateCompleted, third.State)
	assert.Equal(t, 2, index.callCount())
	assert.Equal(t, 2, blobs.readCount())
}
