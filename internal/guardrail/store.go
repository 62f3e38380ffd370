package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists guardrail definitions.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a guardrail store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Create validates and persists a guardrail. Zero threshold and empty
// severity fall back to the defaults.
func (s *Store) Create(ctx context.Context, g Guardrail) (Guardrail, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return Guardrail{}, ErrEmptyName
	}
	if g.Threshold == 0 {
		g.Threshold = DefaultThreshold
	}
	if g.Threshold < 0 || g.Threshold > 1 {
		return Guardrail{}, fmt.Errorf("%w: %g", ErrInvalidThreshold, g.Threshold)
	}
	if g.Severity == "" {
		g.Severity = DefaultSeverity
	}
	g.ID = uuid.New()
	g.CreatedAt = time.Now().UTC()

	const q = `
		INSERT INTO guardrails (id, name, description, kb_id, threshold, severity, message, response_blocking, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q,
		g.ID, g.Name, g.Description, g.KBID, g.Threshold,
		g.Severity, g.Message, g.ResponseBlocking, g.CreatedAt,
	)
	if err != nil {
		return Guardrail{}, fmt.Errorf("inserting guardrail: %w", err)
	}

	s.logger.Info("created guardrail",
		"id", g.ID,
		"name", g.Name,
		"kb", g.KBID,
		"threshold", g.Threshold,
		"blocking", g.ResponseBlocking)
	return g, nil
}

const selectColumns = `id, name, description, kb_id, threshold, severity, message, response_blocking, created_at`

func scanGuardrail(row pgx.Row) (Guardrail, error) {
	var g Guardrail
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.KBID, &g.Threshold,
		&g.Severity, &g.Message, &g.ResponseBlocking, &g.CreatedAt)
	return g, err
}

// Get returns a guardrail by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Guardrail, error) {
	g, err := scanGuardrail(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM guardrails WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Guardrail{}, ErrNotFound
		}
		return Guardrail{}, fmt.Errorf("querying guardrail %s: %w", id, err)
	}
	return g, nil
}

// GetByIDs resolves a set of guardrail ids. Every id must exist.
func (s *Store) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Guardrail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM guardrails WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying guardrails: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]Guardrail, len(ids))
	for rows.Next() {
		g, err := scanGuardrail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning guardrail row: %w", err)
		}
		byID[g.ID] = g
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guardrail rows: %w", err)
	}

	out := make([]Guardrail, 0, len(ids))
	for _, id := range ids {
		g, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("guardrail %s: %w", id, ErrNotFound)
		}
		out = append(out, g)
	}
	return out, nil
}

// List returns all guardrails, newest first.
func (s *Store) List(ctx context.Context) ([]Guardrail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM guardrails ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing guardrails: %w", err)
	}
	defer rows.Close()

	var out []Guardrail
	for rows.Next() {
		g, err := scanGuardrail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning guardrail row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guardrail rows: %w", err)
	}
	return out, nil
}

// ForAgent returns the guardrails attached to an agent.
func (s *Store) ForAgent(ctx context.Context, agentID uuid.UUID) ([]Guardrail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.description, g.kb_id, g.threshold, g.severity, g.message, g.response_blocking, g.created_at
		FROM guardrails g
		JOIN agent_guardrails ag ON ag.guardrail_id = g.id
		WHERE ag.agent_id = $1
		ORDER BY g.created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent guardrails: %w", err)
	}
	defer rows.Close()

	var out []Guardrail
	for rows.Next() {
		g, err := scanGuardrail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning guardrail row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guardrail rows: %w", err)
	}
	return out, nil
}
