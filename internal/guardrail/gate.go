package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SimilarityProber returns the best similarity of a query against a
// knowledge base, together with the matched source text.
type SimilarityProber interface {
	MaxSimilarity(ctx context.Context, kbID uuid.UUID, query string) (float64, string, error)
}

// Gate evaluates queries against guardrails before any answer is
// generated. Checking up front keeps blocked queries from reaching the
// model at all.
type Gate struct {
	probe  SimilarityProber
	logger *slog.Logger
}

// NewGate creates a guardrail gate over the given similarity prober.
func NewGate(probe SimilarityProber, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{probe: probe, logger: logger}
}

// Evaluate probes every guardrail's denylist corpus with the query. All
// guardrails are checked even after one triggers, so the verdict reports
// every match, and a single blocking trigger marks the whole verdict
// blocked.
func (g *Gate) Evaluate(ctx context.Context, query string, rails []Guardrail) (Verdict, error) {
	var verdict Verdict
	for _, rail := range rails {
		score, source, err := g.probe.MaxSimilarity(ctx, rail.KBID, query)
		if err != nil {
			return Verdict{}, fmt.Errorf("probing guardrail %q: %w", rail.Name, err)
		}
		if score < rail.Threshold {
			continue
		}

		g.logger.Info("guardrail triggered",
			"guardrail", rail.ID,
			"name", rail.Name,
			"similarity", score,
			"threshold", rail.Threshold,
			"blocking", rail.ResponseBlocking)

		verdict.Triggered = append(verdict.Triggered, Triggered{
			ID:         rail.ID,
			Name:       rail.Name,
			Severity:   rail.Severity,
			Similarity: score,
			SourceText: source,
			Message:    rail.Message,
		})
		if rail.ResponseBlocking {
			verdict.Blocked = true
		}
	}
	return verdict, nil
}
