// Package agent models the composition layer: prompt templates, execution
// layers (tools the model may call while answering), and agents that bind a
// template to an ordered set of layers and a set of guardrails.
package agent

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for agent operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested agent does not exist.
	ErrNotFound = errors.New("agent not found")

	// ErrTemplateNotFound indicates the requested template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrLayerNotFound indicates the requested execution layer does not exist.
	ErrLayerNotFound = errors.New("execution layer not found")

	// ErrGuardrailNotFound indicates an attachment referencing a guardrail
	// that does not exist.
	ErrGuardrailNotFound = errors.New("guardrail not found")

	// ErrInvalidKind indicates an execution layer kind outside the known set.
	ErrInvalidKind = errors.New("invalid execution layer kind")

	// ErrInvalidLayerConfig indicates a layer config that does not decode
	// into its kind's schema.
	ErrInvalidLayerConfig = errors.New("invalid execution layer config")

	// ErrEmptyName indicates a record with no name.
	ErrEmptyName = errors.New("name must not be empty")
)

// LayerKind identifies what an execution layer does when invoked.
type LayerKind string

const (
	// LayerKnowledgeBaseSearch retrieves chunks from a knowledge base.
	LayerKnowledgeBaseSearch LayerKind = "knowledge-base-search"
	// LayerWebSearch queries an external search endpoint.
	LayerWebSearch LayerKind = "web-search"
	// LayerAPICall performs a configured HTTP request.
	LayerAPICall LayerKind = "api-call"
)

// Valid reports whether k is a known layer kind.
func (k LayerKind) Valid() bool {
	switch k {
	case LayerKnowledgeBaseSearch, LayerWebSearch, LayerAPICall:
		return true
	}
	return false
}

// Template is a reusable system prompt.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"dateCreated"`
}

// ExecutionLayer is a tool definition. Config is kind-specific; see
// KBSearchConfig, WebSearchConfig and APICallConfig.
type ExecutionLayer struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Kind      LayerKind       `json:"kind"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"dateCreated"`
}

// KBSearchConfig configures a knowledge-base-search layer.
type KBSearchConfig struct {
	KnowledgeBase uuid.UUID `json:"knowledgeBase"`
	TopK          int       `json:"topK,omitempty"`
}

// WebSearchConfig configures a web-search layer.
type WebSearchConfig struct {
	Endpoint   string `json:"endpoint"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// APICallConfig configures an api-call layer.
type APICallConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Agent binds a template to ordered execution layers and guardrails.
type Agent struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	TemplateID   *uuid.UUID       `json:"template,omitempty"`
	Layers       []ExecutionLayer `json:"executionLayers,omitempty"`
	GuardrailIDs []uuid.UUID      `json:"guardRails,omitempty"`
	CreatedAt    time.Time        `json:"dateCreated"`
}
