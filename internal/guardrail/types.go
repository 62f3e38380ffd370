// Package guardrail implements policy detectors over denylist corpora. A
// guardrail points at a knowledge base holding banned content; a query
// triggers the guardrail when its best similarity against that corpus
// reaches the guardrail's threshold.
package guardrail

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for guardrail operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested guardrail does not exist.
	ErrNotFound = errors.New("guardrail not found")

	// ErrEmptyName indicates a guardrail with no name.
	ErrEmptyName = errors.New("guardrail name must not be empty")

	// ErrInvalidThreshold indicates a threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("guardrail threshold must be in [0, 1]")
)

// DefaultThreshold is applied when a guardrail is created without one.
const DefaultThreshold = 0.8

// DefaultSeverity is applied when a guardrail is created without one.
const DefaultSeverity = "medium"

// Guardrail is a similarity detector backed by a denylist knowledge base.
// When ResponseBlocking is set, a trigger suppresses the normal answer.
type Guardrail struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	KBID             uuid.UUID `json:"knowledgeBase"`
	Threshold        float64   `json:"threshold"`
	Severity         string    `json:"severity"`
	Message          string    `json:"message,omitempty"`
	ResponseBlocking bool      `json:"responseBlocking"`
	CreatedAt        time.Time `json:"dateCreated"`
}

// Triggered reports one guardrail that matched the query.
type Triggered struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Severity   string    `json:"severity"`
	Similarity float64   `json:"similarity"`
	SourceText string    `json:"sourceText,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Verdict is the outcome of evaluating a query against a set of
// guardrails. Blocked is true when any triggered guardrail has
// ResponseBlocking set; a block always wins over a plain trigger.
type Verdict struct {
	Triggered []Triggered `json:"triggeredGuardRails,omitempty"`
	Blocked   bool        `json:"-"`
}
