package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds vector search queries to prevent blocking.
const searchTimeout = 10 * time.Second

// Searcher embeds text with the configured embedder and performs cosine
// similarity search over the chunks table.
//
// Searcher is safe for concurrent use by multiple goroutines.
type Searcher struct {
	pool             *pgxpool.Pool
	embedder         ai.Embedder
	defaultThreshold float64
	logger           *slog.Logger
}

// NewSearcher creates a Searcher. defaultThreshold applies when a search
// does not override it with WithThreshold.
func NewSearcher(pool *pgxpool.Pool, embedder ai.Embedder, defaultThreshold float64, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		pool:             pool,
		embedder:         embedder,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

// IndexChunks embeds the given chunk texts in one batch and inserts them
// for the document. Existing chunks of the document are replaced, so
// re-ingestion is idempotent.
func (s *Searcher) IndexChunks(ctx context.Context, kbID, documentID uuid.UUID, texts []string) error {
	if len(texts) == 0 {
		return nil
	}

	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return fmt.Errorf("embedder returned %d embeddings for %d chunks", len(resp.Embeddings), len(texts))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}

	const q = `
		INSERT INTO chunks (id, document_id, kb_id, seq, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i, t := range texts {
		vec := pgvector.NewVector(resp.Embeddings[i].Embedding)
		if _, err := tx.Exec(ctx, q, uuid.New(), documentID, kbID, i, t, vec); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}

	s.logger.Debug("indexed chunks", "kb", kbID, "document", documentID, "count", len(texts))
	return nil
}

// Search returns the chunks of the knowledge base most similar to the query,
// ordered by similarity (highest first). Only chunks at or above the
// similarity threshold are returned; with WithHybrid, keyword matches from
// full-text search are merged in regardless of vector similarity.
func (s *Searcher) Search(ctx context.Context, kbID uuid.UUID, query string, opts ...Option) ([]Result, error) {
	cfg := buildSearchConfig(s.defaultThreshold, opts)

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	resp, err := s.embedder.Embed(queryCtx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}
	queryVec := pgvector.NewVector(resp.Embeddings[0].Embedding)

	// Parameters are always bound; SQL text varies only between the fixed
	// filter clauses below.
	q := `
		SELECT c.id, c.document_id, c.kb_id, c.seq, c.content, d.file_name,
		       1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.kb_id = $2`
	args := []any{queryVec, kbID, cfg.threshold}
	if cfg.hybrid {
		q += ` AND (1 - (c.embedding <=> $1) >= $3 OR c.tsv @@ websearch_to_tsquery('english', $4))`
		args = append(args, query)
	} else {
		q += ` AND 1 - (c.embedding <=> $1) >= $3`
	}
	if len(cfg.fileIDs) > 0 {
		q += fmt.Sprintf(` AND c.document_id = ANY($%d)`, len(args)+1)
		args = append(args, cfg.fileIDs)
	}
	q += fmt.Sprintf(` ORDER BY c.embedding <=> $1 LIMIT $%d`, len(args)+1)
	args = append(args, cfg.topK)

	rows, err := s.pool.Query(queryCtx, q, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.KBID,
			&r.Chunk.Seq, &r.Chunk.Content, &r.FileName, &r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	s.logger.Debug("similarity search",
		"kb", kbID, "hybrid", cfg.hybrid, "threshold", cfg.threshold, "results", len(results))
	return results, nil
}

// MaxSimilarity returns the highest similarity between the query and any
// chunk of the knowledge base, or 0 when the base is empty. Used by the
// guardrail gate, which needs the score rather than the chunks.
func (s *Searcher) MaxSimilarity(ctx context.Context, kbID uuid.UUID, query string) (float64, string, error) {
	results, err := s.Search(ctx, kbID, query, WithTopK(1), WithThreshold(0))
	if err != nil {
		return 0, "", err
	}
	if len(results) == 0 {
		return 0, "", nil
	}
	return results[0].Similarity, results[0].Chunk.Content, nil
}
