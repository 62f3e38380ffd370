package kb

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

// Store persists knowledge base records in PostgreSQL.
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a registry store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Create validates and inserts a new knowledge base.
func (s *Store) Create(ctx context.Context, name string, typ Type, cc ChunkConfig) (KnowledgeBase, error) {
	if name == "" {
		return KnowledgeBase{}, ErrEmptyName
	}
	if !typ.Valid() {
		return KnowledgeBase{}, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if err := ValidateChunkConfig(cc); err != nil {
		return KnowledgeBase{}, fmt.Errorf("%w: chunkSize=%d chunkOverlap=%d", err, cc.Size, cc.Overlap)
	}

	record := KnowledgeBase{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		Chunking:  cc,
		CreatedAt: time.Now().UTC(),
	}

	const q = `
		INSERT INTO knowledge_bases (id, name, kb_type, chunk_size, chunk_overlap, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q,
		record.ID, record.Name, string(record.Type),
		record.Chunking.Size, record.Chunking.Overlap, record.CreatedAt,
	); err != nil {
		return KnowledgeBase{}, fmt.Errorf("inserting knowledge base: %w", err)
	}

	s.logger.Debug("created knowledge base",
		"id", record.ID, "name", record.Name, "type", record.Type,
		"chunk_size", cc.Size, "chunk_overlap", cc.Overlap)
	return record, nil
}

// Get returns a knowledge base by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (KnowledgeBase, error) {
	const q = `
		SELECT id, name, kb_type, chunk_size, chunk_overlap, created_at
		FROM knowledge_bases WHERE id = $1`

	var record KnowledgeBase
	var typ string
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&record.ID, &record.Name, &typ,
		&record.Chunking.Size, &record.Chunking.Overlap, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KnowledgeBase{}, ErrNotFound
		}
		return KnowledgeBase{}, fmt.Errorf("querying knowledge base %s: %w", id, err)
	}
	record.Type = Type(typ)
	return record, nil
}

// List returns all knowledge bases ordered by creation time (newest first).
func (s *Store) List(ctx context.Context) ([]KnowledgeBase, error) {
	const q = `
		SELECT id, name, kb_type, chunk_size, chunk_overlap, created_at
		FROM knowledge_bases ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	defer rows.Close()

	var records []KnowledgeBase
	for rows.Next() {
		var record KnowledgeBase
		var typ string
		if err := rows.Scan(
			&record.ID, &record.Name, &typ,
			&record.Chunking.Size, &record.Chunking.Overlap, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning knowledge base row: %w", err)
		}
		record.Type = Type(typ)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge base rows: %w", err)
	}
	return records, nil
}
