package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitAnswerer generates answers through a genkit model, exposing the
// agent's execution layers as tools the model may call.
type GenkitAnswerer struct {
	g         *genkit.Genkit
	modelName string
	tools     *LayerTools
	logger    *slog.Logger
}

// NewGenkitAnswerer creates the production answerer. modelName is the
// fully qualified genkit model name (e.g. "googleai/gemini-2.0-flash").
func NewGenkitAnswerer(g *genkit.Genkit, modelName string, tools *LayerTools, logger *slog.Logger) *GenkitAnswerer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitAnswerer{g: g, modelName: modelName, tools: tools, logger: logger}
}

// Answer synthesizes one answer from the prompt. Retrieved context is
// inlined into the user message; prior turns are replayed as messages so
// the model keeps the conversational thread.
func (a *GenkitAnswerer) Answer(ctx context.Context, p Prompt) (string, error) {
	messages := make([]*ai.Message, 0, 2*len(p.History)+1)
	for _, turn := range p.History {
		messages = append(messages,
			ai.NewUserMessage(ai.NewTextPart(turn.Question)),
			ai.NewModelMessage(ai.NewTextPart(turn.Answer)),
		)
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(buildUserPrompt(p))))

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(p.System),
		ai.WithMessages(messages...),
	}
	if len(p.Layers) > 0 && a.tools != nil {
		refs, err := a.tools.Refs(p.Layers)
		if err != nil {
			return "", fmt.Errorf("preparing layer tools: %w", err)
		}
		if len(refs) > 0 {
			opts = append(opts, ai.WithTools(refs...))
		}
	}

	response, err := genkit.Generate(ctx, a.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return response.Text(), nil
}

// buildUserPrompt inlines the retrieved chunks ahead of the question.
func buildUserPrompt(p Prompt) string {
	if len(p.Context) == 0 {
		return p.Question
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range p.Context {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.FileName, r.Chunk.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(p.Question)
	return b.String()
}

var _ Answerer = (*GenkitAnswerer)(nil)
