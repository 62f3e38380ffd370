package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openkb/openkb/internal/agent"
	"github.com/openkb/openkb/internal/ask"
	"github.com/openkb/openkb/internal/guardrail"
	"github.com/openkb/openkb/internal/ingest"
	"github.com/openkb/openkb/internal/kb"
	"github.com/openkb/openkb/internal/storage"
)

// writeJSON writes a JSON response with the given status code. Encoding
// happens into a buffer first so headers are only sent after a successful
// encode and a real 500 can still be returned on failure.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		slog.Debug("failed to write response body", "error", err)
	}
}

// errorBody is the error envelope every failing endpoint returns:
// {"error": {"code": "...", "message": "..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with the given status, stable code
// slug, and human-readable message.
func WriteError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "status", status, "code", code, "message", message)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeDomainError maps sentinel errors from the domain packages onto the
// HTTP error taxonomy: validation errors are 400, unknown ids are 404,
// protocol violations are 409, signature problems are 403.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, kb.ErrNotFound):
		WriteError(w, http.StatusNotFound, "kb_not_found", "knowledge base not found", logger)
	case errors.Is(err, ingest.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "job_not_found", "ingestion job not found", logger)
	case errors.Is(err, ingest.ErrDocumentNotFound):
		WriteError(w, http.StatusNotFound, "document_not_found", "document not found", logger)
	case errors.Is(err, guardrail.ErrNotFound):
		WriteError(w, http.StatusNotFound, "guardrail_not_found", "guardrail not found", logger)
	case errors.Is(err, agent.ErrNotFound):
		WriteError(w, http.StatusNotFound, "agent_not_found", "agent not found", logger)
	case errors.Is(err, agent.ErrTemplateNotFound):
		WriteError(w, http.StatusNotFound, "template_not_found", "template not found", logger)
	case errors.Is(err, agent.ErrLayerNotFound):
		WriteError(w, http.StatusNotFound, "layer_not_found", "execution layer not found", logger)
	case errors.Is(err, agent.ErrGuardrailNotFound):
		WriteError(w, http.StatusNotFound, "guardrail_not_found", "guardrail not found", logger)
	case errors.Is(err, ask.ErrConversationNotFound):
		WriteError(w, http.StatusNotFound, "conversation_not_found", "conversation not found", logger)
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, "file_not_found", "file not found", logger)
	case errors.Is(err, kb.ErrEmptyName),
		errors.Is(err, kb.ErrInvalidType),
		errors.Is(err, kb.ErrInvalidChunkConfig),
		errors.Is(err, ingest.ErrNoFiles),
		errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, guardrail.ErrEmptyName),
		errors.Is(err, guardrail.ErrInvalidThreshold),
		errors.Is(err, agent.ErrEmptyName),
		errors.Is(err, agent.ErrInvalidKind),
		errors.Is(err, agent.ErrInvalidLayerConfig),
		errors.Is(err, ask.ErrEmptyQuery),
		errors.Is(err, storage.ErrInvalidFileName):
		WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), logger)
	case errors.Is(err, ingest.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "invalid_job_state", err.Error(), logger)
	case errors.Is(err, ask.ErrAgentMismatch):
		WriteError(w, http.StatusConflict, "conversation_agent_mismatch", err.Error(), logger)
	case errors.Is(err, storage.ErrBadSignature):
		WriteError(w, http.StatusForbidden, "signature_invalid", "upload link signature is invalid", logger)
	case errors.Is(err, storage.ErrLinkExpired):
		WriteError(w, http.StatusGone, "link_expired", "upload link has expired", logger)
	default:
		if logger != nil {
			logger.Error("unhandled request error", "error", err)
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}
