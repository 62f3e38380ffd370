package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/kb"
)

// KBStore is the knowledge base registry surface the handlers need.
type KBStore interface {
	Create(ctx context.Context, name string, typ kb.Type, cc kb.ChunkConfig) (kb.KnowledgeBase, error)
	Get(ctx context.Context, id uuid.UUID) (kb.KnowledgeBase, error)
	List(ctx context.Context) ([]kb.KnowledgeBase, error)
}

type kbHandler struct {
	kbs    KBStore
	logger *slog.Logger
}

type createKBRequest struct {
	Name       string         `json:"name"`
	Type       kb.Type        `json:"type"`
	Paragraphs kb.ChunkConfig `json:"paragraphs"`
}

func (h *kbHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}

	base, err := h.kbs.Create(r.Context(), req.Name, req.Type, req.Paragraphs)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, base)
}

func (h *kbHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "kb", h.logger)
	if !ok {
		return
	}
	base, err := h.kbs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, base)
}

func (h *kbHandler) list(w http.ResponseWriter, r *http.Request) {
	bases, err := h.kbs.List(r.Context())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if bases == nil {
		bases = []kb.KnowledgeBase{}
	}
	writeJSON(w, http.StatusOK, bases)
}

// pathUUID parses a UUID path value, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", name+" must be a UUID", logger)
		return uuid.Nil, false
	}
	return id, true
}
