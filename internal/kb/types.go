// Package kb implements the knowledge base registry.
//
// A knowledge base is a named, chunk-configured corpus of ingested
// documents. Its chunking configuration is fixed at creation and applied
// to every future ingest. The kb_type selects the semantic role of the
// corpus: "query" bases answer questions, "tech" bases serve as denylist
// corpora for guardrails. Same storage, different call site.
package kb

import (
	"time"

	"github.com/google/uuid"
)

// Type selects the semantic role of a knowledge base.
type Type string

const (
	// TypeQuery marks an answer corpus used by the query engine.
	TypeQuery Type = "query"

	// TypeTech marks a detector corpus (banned example phrases) used by
	// guardrails.
	TypeTech Type = "tech"
)

// Valid reports whether t is a known knowledge base type.
func (t Type) Valid() bool {
	return t == TypeQuery || t == TypeTech
}

// ChunkConfig controls how documents are split during ingestion.
// Overlap tokens are shared between consecutive chunks.
type ChunkConfig struct {
	Size    int `json:"chunkSize"`
	Overlap int `json:"chunkOverlap"`
}

// KnowledgeBase is a registry record.
type KnowledgeBase struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Type      Type        `json:"type"`
	Chunking  ChunkConfig `json:"paragraphs"`
	CreatedAt time.Time   `json:"dateCreated"`
}
