package ask

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/agent"
	"github.com/openkb/openkb/internal/search"
)

// toolResponseLimit caps how many bytes of an external response are fed
// back to the model.
const toolResponseLimit = 16 << 10

// ToolQuery is the input schema shared by all layer tools.
type ToolQuery struct {
	Query string `json:"query" jsonschema:"description=Search query or request payload"`
}

// LayerTools registers execution layers as genkit tools. Tool names must
// be unique per genkit instance, so each layer is defined once and cached
// by id.
type LayerTools struct {
	g      *genkit.Genkit
	engine SearchEngine
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	defined map[uuid.UUID]ai.ToolRef
}

// NewLayerTools creates the layer tool registry.
func NewLayerTools(g *genkit.Genkit, engine SearchEngine, logger *slog.Logger) *LayerTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayerTools{
		g:       g,
		engine:  engine,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
		defined: make(map[uuid.UUID]ai.ToolRef),
	}
}

// Refs returns tool references for the given layers, defining each layer's
// tool on first use.
func (t *LayerTools) Refs(layers []agent.ExecutionLayer) ([]ai.ToolRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	refs := make([]ai.ToolRef, 0, len(layers))
	for _, layer := range layers {
		ref, ok := t.defined[layer.ID]
		if !ok {
			var err error
			ref, err = t.define(layer)
			if err != nil {
				return nil, err
			}
			t.defined[layer.ID] = ref
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (t *LayerTools) define(layer agent.ExecutionLayer) (ai.ToolRef, error) {
	// Suffix with the id so two layers sharing a display name stay distinct.
	toolName := fmt.Sprintf("%s_%s", sanitizeToolName(layer.Name), shortID(layer.ID))

	switch layer.Kind {
	case agent.LayerKnowledgeBaseSearch:
		var cfg agent.KBSearchConfig
		if err := json.Unmarshal(layer.Config, &cfg); err != nil {
			return nil, fmt.Errorf("layer %s config: %w", layer.ID, err)
		}
		return genkit.DefineTool(t.g, toolName,
			fmt.Sprintf("Search the %q knowledge base for relevant passages.", layer.Name),
			func(toolCtx *ai.ToolContext, input ToolQuery) (string, error) {
				return t.searchKB(toolCtx.Context, cfg, input.Query)
			}), nil

	case agent.LayerWebSearch:
		var cfg agent.WebSearchConfig
		if err := json.Unmarshal(layer.Config, &cfg); err != nil {
			return nil, fmt.Errorf("layer %s config: %w", layer.ID, err)
		}
		return genkit.DefineTool(t.g, toolName,
			"Search the web for current information.",
			func(toolCtx *ai.ToolContext, input ToolQuery) (string, error) {
				return t.webSearch(toolCtx.Context, cfg, input.Query)
			}), nil

	case agent.LayerAPICall:
		var cfg agent.APICallConfig
		if err := json.Unmarshal(layer.Config, &cfg); err != nil {
			return nil, fmt.Errorf("layer %s config: %w", layer.ID, err)
		}
		return genkit.DefineTool(t.g, toolName,
			fmt.Sprintf("Call the %q API endpoint.", layer.Name),
			func(toolCtx *ai.ToolContext, input ToolQuery) (string, error) {
				return t.apiCall(toolCtx.Context, cfg, input.Query)
			}), nil
	}

	return nil, fmt.Errorf("%w: %q", agent.ErrInvalidKind, layer.Kind)
}

func (t *LayerTools) searchKB(ctx context.Context, cfg agent.KBSearchConfig, query string) (string, error) {
	var opts []search.Option
	if cfg.TopK > 0 {
		opts = append(opts, search.WithTopK(cfg.TopK))
	}
	results, err := t.engine.Search(ctx, cfg.KnowledgeBase, query, opts...)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No relevant passages found.", nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.FileName, r.Chunk.Content)
	}
	return b.String(), nil
}

func (t *LayerTools) webSearch(ctx context.Context, cfg agent.WebSearchConfig, query string) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		return "", fmt.Errorf("web-search layer has no endpoint configured")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing web search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	return t.do(req)
}

func (t *LayerTools) apiCall(ctx context.Context, cfg agent.APICallConfig, payload string) (string, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method != http.MethodGet && payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return "", err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *LayerTools) do(req *http.Request) (string, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, toolResponseLimit))
	if err != nil {
		return "", fmt.Errorf("reading tool response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("tool request failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// sanitizeToolName maps a display name onto the character set genkit
// accepts for tool names.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "layer"
	}
	return b.String()
}

func shortID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
