package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/openkb/openkb/internal/storage"
)

// maxUploadBytes caps one file upload.
const maxUploadBytes = 64 << 20

// Uploader is the connector surface the handlers need: link signing,
// verification, and blob persistence.
type Uploader interface {
	SignUploadLink(kbID uuid.UUID, fileName string) (storage.UploadLink, error)
	VerifyUpload(kbID uuid.UUID, fileName string, expires int64, signature string) error
	Save(ctx context.Context, kbID uuid.UUID, fileName, contentType string, r io.Reader) (int64, error)
}

type connectorHandler struct {
	uploads Uploader
	kbs     KBStore
	logger  *slog.Logger
}

// signLinks returns a signed upload URI per requested file name:
// {fileName: uploadUri, ...}. Multiple fileName parameters may be given to
// sign a batch in one call.
func (h *connectorHandler) signLinks(w http.ResponseWriter, r *http.Request) {
	kbID, err := uuid.Parse(r.URL.Query().Get("kb"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "kb must be a UUID", h.logger)
		return
	}
	names := r.URL.Query()["fileName"]
	if len(names) == 0 {
		WriteError(w, http.StatusBadRequest, "file_name_required", "at least one fileName parameter is required", h.logger)
		return
	}

	// The knowledge base must exist before uploads are offered for it.
	if _, err := h.kbs.Get(r.Context(), kbID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	links := make(map[string]string, len(names))
	for _, name := range names {
		link, err := h.uploads.SignUploadLink(kbID, name)
		if err != nil {
			writeDomainError(w, err, h.logger)
			return
		}
		links[link.FileName] = link.UploadURI
	}
	writeJSON(w, http.StatusOK, links)
}

// upload receives the PUT against a signed link and persists the bytes.
func (h *connectorHandler) upload(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathUUID(w, r, "kb", h.logger)
	if !ok {
		return
	}
	fileName := r.PathValue("fileName")

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_expiry", "expires must be a unix timestamp", h.logger)
		return
	}
	if err := h.uploads.VerifyUpload(kbID, fileName, expires, r.URL.Query().Get("signature")); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	n, err := h.uploads.Save(r.Context(), kbID, fileName, r.Header.Get("Content-Type"), body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds the size limit", h.logger)
			return
		}
		writeDomainError(w, err, h.logger)
		return
	}

	h.logger.Info("file uploaded", "kb", kbID, "file", fileName, "bytes", n)
	writeJSON(w, http.StatusOK, map[string]any{"fileName": fileName, "bytes": n})
}
