// Package ask implements query answering: guardrail pre-checks, retrieval
// over a knowledge base, model answer synthesis, and conversation
// threading so follow-up questions keep their context.
package ask

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/guardrail"
)

// Sentinel errors for query operations. Check with errors.Is().
var (
	// ErrEmptyQuery indicates a request with no question text.
	ErrEmptyQuery = errors.New("query text must not be empty")

	// ErrConversationNotFound indicates an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrAgentMismatch indicates a conversation reused under a different
	// agent than the one that opened it.
	ErrAgentMismatch = errors.New("conversation belongs to a different agent")
)

// Request carries one question plus its scope and retrieval options.
type Request struct {
	Question       string
	KBID           *uuid.UUID
	AgentID        *uuid.UUID
	ConversationID *uuid.UUID
	WithReference  bool
	Hybrid         bool
	Threshold      *float64
	TopK           int
	FileIDs        []uuid.UUID
}

// Reference points an answer fragment back to the retrieved chunk it was
// grounded on.
type Reference struct {
	FileID     uuid.UUID `json:"fileId"`
	FileName   string    `json:"fileName"`
	ChunkID    uuid.UUID `json:"chunkId"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity"`
}

// Fragment is one answer with its optional provenance.
type Fragment struct {
	Answer    string     `json:"answer"`
	Reference *Reference `json:"reference,omitempty"`
}

// Response is the full answer payload. When a blocking guardrail triggers,
// Response carries the triggered guardrails and no fragments; non-blocking
// triggers are reported alongside the normal answer.
type Response struct {
	Response       []Fragment            `json:"response"`
	QueryID        uuid.UUID             `json:"queryId"`
	ConversationID uuid.UUID             `json:"conversationId"`
	Triggered      []guardrail.Triggered `json:"triggeredGuardRails,omitempty"`
}

// Turn is one prior question/answer exchange in a conversation.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"dateCreated"`
}
