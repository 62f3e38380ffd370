package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/guardrail"
)

// GuardrailStore is the guardrail surface the handlers need.
type GuardrailStore interface {
	Create(ctx context.Context, g guardrail.Guardrail) (guardrail.Guardrail, error)
	Get(ctx context.Context, id uuid.UUID) (guardrail.Guardrail, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]guardrail.Guardrail, error)
	List(ctx context.Context) ([]guardrail.Guardrail, error)
}

type guardrailHandler struct {
	rails  GuardrailStore
	kbs    KBStore
	logger *slog.Logger
}

// sourceFabric names the corpus a guardrail detects against. Only the
// knowledge-base fabric is supported; its config selects the denylist base
// and tuning.
type sourceFabric struct {
	Name   string             `json:"name"`
	Config sourceFabricConfig `json:"config"`
}

type sourceFabricConfig struct {
	KnowledgeBase uuid.UUID `json:"knowledgeBase"`
	Threshold     float64   `json:"threshold,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	Message       string    `json:"message,omitempty"`
}

type createGuardrailRequest struct {
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	SourceFabric     sourceFabric `json:"sourceFabric"`
	ResponseBlocking bool         `json:"responseBlocking"`
}

func (h *guardrailHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createGuardrailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}
	if req.SourceFabric.Config.KnowledgeBase == uuid.Nil {
		WriteError(w, http.StatusBadRequest, "kb_required", "sourceFabric.config.knowledgeBase is required", h.logger)
		return
	}

	// The denylist corpus must exist before a detector can point at it.
	if _, err := h.kbs.Get(r.Context(), req.SourceFabric.Config.KnowledgeBase); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	created, err := h.rails.Create(r.Context(), guardrail.Guardrail{
		Name:             req.Name,
		Description:      req.Description,
		KBID:             req.SourceFabric.Config.KnowledgeBase,
		Threshold:        req.SourceFabric.Config.Threshold,
		Severity:         req.SourceFabric.Config.Severity,
		Message:          req.SourceFabric.Config.Message,
		ResponseBlocking: req.ResponseBlocking,
	})
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *guardrailHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rail, err := h.rails.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, rail)
}

func (h *guardrailHandler) list(w http.ResponseWriter, r *http.Request) {
	rails, err := h.rails.List(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if rails == nil {
		rails = []guardrail.Guardrail{}
	}
	writeJSON(w, http.StatusOK, rails)
}
