package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists templates, execution layers, and agents.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an agent store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateTemplate persists a system prompt template.
func (s *Store) CreateTemplate(ctx context.Context, name, content string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, ErrEmptyName
	}
	t := Template{
		ID:        uuid.New(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates (id, name, content, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Content, t.CreatedAt)
	if err != nil {
		return Template{}, fmt.Errorf("inserting template: %w", err)
	}
	return t, nil
}

// GetTemplate returns a template by id.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (Template, error) {
	var t Template
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, content, created_at FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, fmt.Errorf("querying template %s: %w", id, err)
	}
	return t, nil
}

// ListTemplates returns all templates, newest first.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, content, created_at FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return out, nil
}

// CreateLayer validates and persists an execution layer. The config must be
// valid JSON for the layer's kind.
func (s *Store) CreateLayer(ctx context.Context, name string, kind LayerKind, config json.RawMessage) (ExecutionLayer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ExecutionLayer{}, ErrEmptyName
	}
	if !kind.Valid() {
		return ExecutionLayer{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	if err := validateLayerConfig(kind, config); err != nil {
		return ExecutionLayer{}, err
	}

	l := ExecutionLayer{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_layers (id, name, kind, config, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.Name, string(l.Kind), l.Config, l.CreatedAt)
	if err != nil {
		return ExecutionLayer{}, fmt.Errorf("inserting execution layer: %w", err)
	}
	return l, nil
}

// validateLayerConfig decodes config into the kind's schema so broken
// layers are rejected at creation instead of at query time.
func validateLayerConfig(kind LayerKind, config json.RawMessage) error {
	dec := json.NewDecoder(strings.NewReader(string(config)))
	dec.DisallowUnknownFields()

	switch kind {
	case LayerKnowledgeBaseSearch:
		var c KBSearchConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLayerConfig, kind, err)
		}
		if c.KnowledgeBase == uuid.Nil {
			return fmt.Errorf("%w: %s: knowledgeBase is required", ErrInvalidLayerConfig, kind)
		}
	case LayerWebSearch:
		var c WebSearchConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLayerConfig, kind, err)
		}
	case LayerAPICall:
		var c APICallConfig
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLayerConfig, kind, err)
		}
		if c.URL == "" {
			return fmt.Errorf("%w: %s: url is required", ErrInvalidLayerConfig, kind)
		}
	}
	return nil
}

// GetLayer returns an execution layer by id.
func (s *Store) GetLayer(ctx context.Context, id uuid.UUID) (ExecutionLayer, error) {
	var l ExecutionLayer
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, config, created_at FROM execution_layers WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &kind, &l.Config, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExecutionLayer{}, ErrLayerNotFound
		}
		return ExecutionLayer{}, fmt.Errorf("querying execution layer %s: %w", id, err)
	}
	l.Kind = LayerKind(kind)
	return l, nil
}

// ListLayers returns all execution layers, newest first.
func (s *Store) ListLayers(ctx context.Context) ([]ExecutionLayer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, config, created_at FROM execution_layers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing execution layers: %w", err)
	}
	defer rows.Close()

	var out []ExecutionLayer
	for rows.Next() {
		var l ExecutionLayer
		var kind string
		if err := rows.Scan(&l.ID, &l.Name, &kind, &l.Config, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning execution layer row: %w", err)
		}
		l.Kind = LayerKind(kind)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution layer rows: %w", err)
	}
	return out, nil
}

// CreateAgent persists an agent with its ordered layer references. Every
// referenced template and layer must exist.
func (s *Store) CreateAgent(ctx context.Context, name string, templateID *uuid.UUID, layerIDs []uuid.UUID) (Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Agent{}, ErrEmptyName
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agent{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	a := Agent{
		ID:         uuid.New(),
		Name:       name,
		TemplateID: templateID,
		CreatedAt:  time.Now().UTC(),
	}

	if templateID != nil {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM templates WHERE id = $1)`, *templateID,
		).Scan(&exists); err != nil {
			return Agent{}, fmt.Errorf("checking template: %w", err)
		}
		if !exists {
			return Agent{}, ErrTemplateNotFound
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO agents (id, name, template_id, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Name, a.TemplateID, a.CreatedAt); err != nil {
		return Agent{}, fmt.Errorf("inserting agent: %w", err)
	}

	for pos, layerID := range layerIDs {
		tag, err := tx.Exec(ctx, `
			INSERT INTO agent_execution_layers (agent_id, layer_id, position)
			SELECT $1, id, $3 FROM execution_layers WHERE id = $2`,
			a.ID, layerID, pos)
		if err != nil {
			return Agent{}, fmt.Errorf("attaching layer %s: %w", layerID, err)
		}
		if tag.RowsAffected() == 0 {
			return Agent{}, fmt.Errorf("layer %s: %w", layerID, ErrLayerNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agent{}, fmt.Errorf("committing agent: %w", err)
	}

	s.logger.Info("created agent", "id", a.ID, "name", a.Name, "layers", len(layerIDs))
	return s.GetAgent(ctx, a.ID)
}

// GetAgent returns an agent with its layers in position order and its
// attached guardrail ids.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (Agent, error) {
	var a Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, template_id, created_at FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.TemplateID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("querying agent %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.name, l.kind, l.config, l.created_at
		FROM execution_layers l
		JOIN agent_execution_layers al ON al.layer_id = l.id
		WHERE al.agent_id = $1
		ORDER BY al.position`, id)
	if err != nil {
		return Agent{}, fmt.Errorf("querying agent layers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l ExecutionLayer
		var kind string
		if err := rows.Scan(&l.ID, &l.Name, &kind, &l.Config, &l.CreatedAt); err != nil {
			return Agent{}, fmt.Errorf("scanning agent layer row: %w", err)
		}
		l.Kind = LayerKind(kind)
		a.Layers = append(a.Layers, l)
	}
	if err := rows.Err(); err != nil {
		return Agent{}, fmt.Errorf("iterating agent layer rows: %w", err)
	}

	grRows, err := s.pool.Query(ctx,
		`SELECT guardrail_id FROM agent_guardrails WHERE agent_id = $1`, id)
	if err != nil {
		return Agent{}, fmt.Errorf("querying agent guardrails: %w", err)
	}
	defer grRows.Close()

	for grRows.Next() {
		var gid uuid.UUID
		if err := grRows.Scan(&gid); err != nil {
			return Agent{}, fmt.Errorf("scanning agent guardrail row: %w", err)
		}
		a.GuardrailIDs = append(a.GuardrailIDs, gid)
	}
	if err := grRows.Err(); err != nil {
		return Agent{}, fmt.Errorf("iterating agent guardrail rows: %w", err)
	}

	return a, nil
}

// ListAgents returns all agents without their layer and guardrail details.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, template_id, created_at FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.TemplateID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return out, nil
}

// SetGuardrails replaces an agent's guardrail attachments. Every id must
// reference an existing guardrail.
func (s *Store) SetGuardrails(ctx context.Context, agentID uuid.UUID, guardrailIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`, agentID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking agent: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM agent_guardrails WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("clearing agent guardrails: %w", err)
	}

	for _, gid := range guardrailIDs {
		tag, err := tx.Exec(ctx, `
			INSERT INTO agent_guardrails (agent_id, guardrail_id)
			SELECT $1, id FROM guardrails WHERE id = $2`,
			agentID, gid)
		if err != nil {
			return fmt.Errorf("attaching guardrail %s: %w", gid, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("guardrail %s: %w", gid, ErrGuardrailNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing agent guardrails: %w", err)
	}

	s.logger.Info("updated agent guardrails", "agent", agentID, "count", len(guardrailIDs))
	return nil
}
