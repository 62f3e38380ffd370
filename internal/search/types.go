// Package search implements the similarity-search core shared by the query
// engine (answer corpus) and the guardrail gate (denylist corpus). The
// corpus role is selected by the caller, not by this package.
package search

import "github.com/google/uuid"

// VectorDimension is the embedding dimensionality of the chunks table.
// text-embedding-004 outputs 768 dimensions; the pgvector column is
// vector(768). Changing the embedder requires a schema migration.
const VectorDimension = 768

// Chunk is the unit of retrieval: a fixed-size, overlapping text segment
// produced during ingestion. A chunk belongs to exactly one document,
// which belongs to exactly one knowledge base.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"fileId"`
	KBID       uuid.UUID `json:"-"`
	Seq        int       `json:"seq"`
	Content    string    `json:"text"`
}

// Result pairs a chunk with its provenance and similarity score.
type Result struct {
	Chunk      Chunk   `json:"chunk"`
	FileName   string  `json:"fileName"`
	Similarity float64 `json:"similarity"` // cosine similarity in [0,1]
}

// Option configures a search using the functional options pattern.
type Option func(*searchConfig)

type searchConfig struct {
	topK      int
	threshold float64
	hybrid    bool
	fileIDs   []uuid.UUID
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) Option {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithThreshold sets the minimum cosine similarity. Default is 0.8.
func WithThreshold(t float64) Option {
	return func(c *searchConfig) {
		c.threshold = t
	}
}

// WithHybrid merges keyword (full-text) matches into the result set in
// addition to vector similarity matches.
func WithHybrid() Option {
	return func(c *searchConfig) {
		c.hybrid = true
	}
}

// WithFileFilter restricts results to chunks of the given documents.
func WithFileFilter(ids []uuid.UUID) Option {
	return func(c *searchConfig) {
		c.fileIDs = ids
	}
}

func buildSearchConfig(defaultThreshold float64, opts []Option) *searchConfig {
	cfg := &searchConfig{
		topK:      5,
		threshold: defaultThreshold,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
