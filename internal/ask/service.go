package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/agent"
	"github.com/openkb/openkb/internal/guardrail"
	"github.com/openkb/openkb/internal/search"
)

// defaultSystemPrompt is used when a query has no agent template.
const defaultSystemPrompt = "You are a knowledge base assistant. Answer the question using only the supplied context. If the context does not contain the answer, say so instead of guessing."

const askTimeout = 60 * time.Second

// SearchEngine retrieves chunks from a knowledge base.
type SearchEngine interface {
	Search(ctx context.Context, kbID uuid.UUID, query string, opts ...search.Option) ([]search.Result, error)
}

// Gate evaluates a query against guardrails before generation.
type Gate interface {
	Evaluate(ctx context.Context, query string, rails []guardrail.Guardrail) (guardrail.Verdict, error)
}

// AgentDirectory resolves agents and their prompt templates.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id uuid.UUID) (agent.Agent, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (agent.Template, error)
}

// GuardrailSource selects which guardrails apply to a query. Agent queries
// use the agent's attachments; direct queries use every defined guardrail.
type GuardrailSource interface {
	List(ctx context.Context) ([]guardrail.Guardrail, error)
	ForAgent(ctx context.Context, agentID uuid.UUID) ([]guardrail.Guardrail, error)
}

// Conversations threads queries and replays prior turns.
type Conversations interface {
	Ensure(ctx context.Context, id *uuid.UUID, agentID *uuid.UUID) (uuid.UUID, error)
	Record(ctx context.Context, conversationID uuid.UUID, question, answer string, blocked bool) (uuid.UUID, error)
	History(ctx context.Context, conversationID uuid.UUID) ([]Turn, error)
}

// Prompt is everything the model needs to synthesize one answer.
type Prompt struct {
	System   string
	History  []Turn
	Question string
	Context  []search.Result
	Layers   []agent.ExecutionLayer
}

// Answerer synthesizes an answer from a prompt. The production
// implementation generates through genkit; tests substitute a stub.
type Answerer interface {
	Answer(ctx context.Context, p Prompt) (string, error)
}

// Service answers questions. The pipeline is guardrail pre-check, then
// retrieval, then generation; a blocked query never reaches the model.
type Service struct {
	engine   SearchEngine
	gate     Gate
	agents   AgentDirectory
	rails    GuardrailSource
	convs    Conversations
	answerer Answerer
	logger   *slog.Logger
}

// NewService wires the query pipeline.
func NewService(engine SearchEngine, gate Gate, agents AgentDirectory, rails GuardrailSource, convs Conversations, answerer Answerer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   engine,
		gate:     gate,
		agents:   agents,
		rails:    rails,
		convs:    convs,
		answerer: answerer,
		logger:   logger,
	}
}

// Ask runs one question through the pipeline and records the exchange.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	system := defaultSystemPrompt
	var layers []agent.ExecutionLayer
	var rails []guardrail.Guardrail

	if req.AgentID != nil {
		ag, err := s.agents.GetAgent(ctx, *req.AgentID)
		if err != nil {
			return Response{}, err
		}
		layers = ag.Layers
		if ag.TemplateID != nil {
			tpl, err := s.agents.GetTemplate(ctx, *ag.TemplateID)
			if err != nil {
				return Response{}, err
			}
			system = tpl.Content
		}
		rails, err = s.rails.ForAgent(ctx, ag.ID)
		if err != nil {
			return Response{}, err
		}
	} else {
		var err error
		rails, err = s.rails.List(ctx)
		if err != nil {
			return Response{}, err
		}
	}

	conversationID, err := s.convs.Ensure(ctx, req.ConversationID, req.AgentID)
	if err != nil {
		return Response{}, err
	}

	verdict, err := s.gate.Evaluate(ctx, question, rails)
	if err != nil {
		return Response{}, fmt.Errorf("evaluating guardrails: %w", err)
	}
	if verdict.Blocked {
		queryID, err := s.convs.Record(ctx, conversationID, question, "", true)
		if err != nil {
			return Response{}, err
		}
		s.logger.Info("query blocked by guardrail",
			"query", queryID,
			"conversation", conversationID,
			"triggered", len(verdict.Triggered))
		return Response{
			Response:       []Fragment{},
			QueryID:        queryID,
			ConversationID: conversationID,
			Triggered:      verdict.Triggered,
		}, nil
	}

	var results []search.Result
	if req.KBID != nil {
		opts := retrievalOptions(req)
		results, err = s.engine.Search(ctx, *req.KBID, question, opts...)
		if err != nil {
			return Response{}, fmt.Errorf("retrieving context: %w", err)
		}
	}

	history, err := s.convs.History(ctx, conversationID)
	if err != nil {
		return Response{}, err
	}

	answer, err := s.answerer.Answer(ctx, Prompt{
		System:   system,
		History:  history,
		Question: question,
		Context:  results,
		Layers:   layers,
	})
	if err != nil {
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	queryID, err := s.convs.Record(ctx, conversationID, question, answer, false)
	if err != nil {
		return Response{}, err
	}

	fragment := Fragment{Answer: answer}
	if req.WithReference && len(results) > 0 {
		top := results[0]
		fragment.Reference = &Reference{
			FileID:     top.Chunk.DocumentID,
			FileName:   top.FileName,
			ChunkID:    top.Chunk.ID,
			Text:       top.Chunk.Content,
			Similarity: top.Similarity,
		}
	}

	return Response{
		Response:       []Fragment{fragment},
		QueryID:        queryID,
		ConversationID: conversationID,
		Triggered:      verdict.Triggered,
	}, nil
}

func retrievalOptions(req Request) []search.Option {
	var opts []search.Option
	if req.TopK > 0 {
		opts = append(opts, search.WithTopK(req.TopK))
	}
	if req.Threshold != nil {
		opts = append(opts, search.WithThreshold(*req.Threshold))
	}
	if req.Hybrid {
		opts = append(opts, search.WithHybrid())
	}
	if len(req.FileIDs) > 0 {
		opts = append(opts, search.WithFileFilter(req.FileIDs))
	}
	return opts
}
