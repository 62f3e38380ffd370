package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/ask"
)

// AskService answers questions.
type AskService interface {
	Ask(ctx context.Context, req ask.Request) (ask.Response, error)
}

type askHandler struct {
	svc    AskService
	logger *slog.Logger
}

// query answers a question scoped to a knowledge base (or nothing).
func (h *askHandler) query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	h.answer(w, r, req)
}

// agentQuery answers a question through an agent.
func (h *askHandler) agentQuery(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathUUID(w, r, "agentId", h.logger)
	if !ok {
		return
	}
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	req.AgentID = &agentID
	h.answer(w, r, req)
}

func (h *askHandler) answer(w http.ResponseWriter, r *http.Request, req ask.Request) {
	resp, err := h.svc.Ask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseRequest reads the query parameters the ask endpoints accept:
// q, kb, withReference, conversationId, hybrid, threshold, topK, files.
func (h *askHandler) parseRequest(w http.ResponseWriter, r *http.Request) (ask.Request, bool) {
	q := r.URL.Query()

	req := ask.Request{
		Question:      q.Get("q"),
		WithReference: parseBool(q.Get("withReference")),
		Hybrid:        parseBool(q.Get("hybrid")),
	}

	if v := q.Get("kb"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_id", "kb must be a UUID", h.logger)
			return ask.Request{}, false
		}
		req.KBID = &id
	}
	if v := q.Get("conversationId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_id", "conversationId must be a UUID", h.logger)
			return ask.Request{}, false
		}
		req.ConversationID = &id
	}
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			WriteError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be a number in [0, 1]", h.logger)
			return ask.Request{}, false
		}
		req.Threshold = &t
	}
	if v := q.Get("topK"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			WriteError(w, http.StatusBadRequest, "invalid_topk", "topK must be a positive integer", h.logger)
			return ask.Request{}, false
		}
		req.TopK = k
	}

	fileIDs, err := parseFileIDs(q)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "files must be a comma-separated list of UUIDs", h.logger)
		return ask.Request{}, false
	}
	req.FileIDs = fileIDs

	return req, true
}

func parseFileIDs(q url.Values) ([]uuid.UUID, error) {
	raw := q.Get("files")
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
