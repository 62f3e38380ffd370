package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/agent"
)

// AgentStore is the agent composition surface the handlers need.
type AgentStore interface {
	CreateTemplate(ctx context.Context, name, content string) (agent.Template, error)
	ListTemplates(ctx context.Context) ([]agent.Template, error)
	CreateLayer(ctx context.Context, name string, kind agent.LayerKind, config json.RawMessage) (agent.ExecutionLayer, error)
	GetLayer(ctx context.Context, id uuid.UUID) (agent.ExecutionLayer, error)
	ListLayers(ctx context.Context) ([]agent.ExecutionLayer, error)
	CreateAgent(ctx context.Context, name string, templateID *uuid.UUID, layerIDs []uuid.UUID) (agent.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (agent.Agent, error)
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	SetGuardrails(ctx context.Context, agentID uuid.UUID, guardrailIDs []uuid.UUID) error
}

type agentHandler struct {
	agents AgentStore
	rails  GuardrailStore
	logger *slog.Logger
}

type createTemplateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (h *agentHandler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	tpl, err := h.agents.CreateTemplate(r.Context(), req.Name, req.Content)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *agentHandler) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.agents.ListTemplates(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if tpls == nil {
		tpls = []agent.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

type createLayerRequest struct {
	Name   string          `json:"name"`
	Kind   agent.LayerKind `json:"kind"`
	Config json.RawMessage `json:"config"`
}

func (h *agentHandler) createLayer(w http.ResponseWriter, r *http.Request) {
	var req createLayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	layer, err := h.agents.CreateLayer(r.Context(), req.Name, req.Kind, req.Config)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, layer)
}

func (h *agentHandler) getLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "layerId", h.logger)
	if !ok {
		return
	}
	layer, err := h.agents.GetLayer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, layer)
}

func (h *agentHandler) listLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.agents.ListLayers(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if layers == nil {
		layers = []agent.ExecutionLayer{}
	}
	writeJSON(w, http.StatusOK, layers)
}

type createAgentRequest struct {
	Name            string      `json:"name"`
	Template        *uuid.UUID  `json:"template,omitempty"`
	ExecutionLayers []uuid.UUID `json:"executionLayers,omitempty"`
}

func (h *agentHandler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	ag, err := h.agents.CreateAgent(r.Context(), req.Name, req.Template, req.ExecutionLayers)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

func (h *agentHandler) getAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "agentId", h.logger)
	if !ok {
		return
	}
	ag, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

func (h *agentHandler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAgents(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

type patchAgentRequest struct {
	GuardRails []uuid.UUID `json:"guardRails"`
}

// patchAgent replaces the agent's guardrail attachments.
func (h *agentHandler) patchAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "agentId", h.logger)
	if !ok {
		return
	}

	var req patchAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}

	// Resolve the ids up front so an unknown guardrail answers 404 before
	// any attachment is touched.
	if _, err := h.rails.GetByIDs(r.Context(), req.GuardRails); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	if err := h.agents.SetGuardrails(r.Context(), id, req.GuardRails); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	ag, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ag)
}
