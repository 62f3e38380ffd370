package ask

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

// historyLimit bounds how many prior turns are replayed into the model.
const historyLimit = 20

// ConversationStore persists conversations and their queries.
type ConversationStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewConversationStore creates a conversation store backed by the pool.
func NewConversationStore(pool *pgxpool.Pool, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{pool: pool, logger: logger}
}

// Ensure returns the conversation id to thread a query under. A nil id
// opens a new conversation; a non-nil id must reference an existing one
// opened under the same agent (or no agent, for direct queries).
func (s *ConversationStore) Ensure(ctx context.Context, id *uuid.UUID, agentID *uuid.UUID) (uuid.UUID, error) {
	if id != nil {
		owner, err := s.AgentID(ctx, *id)
		if err != nil {
			return uuid.Nil, err
		}
		if !uuidPtrEqual(owner, agentID) {
			return uuid.Nil, fmt.Errorf("conversation %s: %w", *id, ErrAgentMismatch)
		}
		return *id, nil
	}

	conv := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, agent_id, created_at) VALUES ($1, $2, $3)`,
		conv, agentID, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// Record stores one answered (or blocked) query and returns its id.
func (s *ConversationStore) Record(ctx context.Context, conversationID uuid.UUID, question, answer string, blocked bool) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queries (id, conversation_id, question, answer, blocked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, conversationID, question, answer, blocked, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording query: %w", err)
	}
	return id, nil
}

// History returns the most recent turns of a conversation in
// chronological order. Blocked turns are skipped; they carry no answer
// worth replaying.
func (s *ConversationStore) History(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question, answer, blocked, created_at
		FROM queries
		WHERE conversation_id = $1 AND NOT blocked
		ORDER BY created_at DESC
		LIMIT $2`, conversationID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Question, &t.Answer, &t.Blocked, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}

	// Newest-first from the query, oldest-first for the model.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AgentID returns the agent a conversation was opened under, if any.
func (s *ConversationStore) AgentID(ctx context.Context, conversationID uuid.UUID) (*uuid.UUID, error) {
	var agentID *uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id FROM conversations WHERE id = $1`, conversationID,
	).Scan(&agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("querying conversation %s: %w", conversationID, err)
	}
	return agentID, nil
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
