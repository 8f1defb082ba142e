package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hirakuhq/hiraku/internal/knowledge"
	"github.com/hirakuhq/hiraku/internal/log"
)

// FilesHandler lists and deletes indexed documents.
type FilesHandler struct {
	store     *knowledge.Store
	uploadDir string
	logger    log.Logger
}

// NewFilesHandler creates a files handler.
func NewFilesHandler(store *knowledge.Store, uploadDir string, logger log.Logger) *FilesHandler {
	return &FilesHandler{store: store, uploadDir: uploadDir, logger: logger}
}

// RegisterRoutes registers file routes on the given mux.
func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/files", h.list)
	mux.HandleFunc("DELETE /api/files/{id}", h.delete)
}

func (h *FilesHandler) list(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	docs, err := h.store.ListDocuments(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("listing documents failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list files")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files": docs,
		"total": len(docs),
	})
}

// delete removes the document's chunks from the index and, when
// possible, the raw file from disk. A missing raw file is not an error;
// the index is authoritative.
func (h *FilesHandler) delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	docID := r.PathValue("id")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "document id is required")
		return
	}

	// Find the filename before the row disappears.
	var filename string
	docs, err := h.store.ListDocuments(r.Context(), claims.UserID)
	if err == nil {
		for _, d := range docs {
			if d.ID == docID {
				filename = d.Filename
				break
			}
		}
	}

	err = h.store.DeleteDocument(r.Context(), claims.UserID, docID)
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting document failed", "user", claims.UserID, "doc", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete file")
		return
	}

	if filename != "" {
		path := filepath.Join(h.uploadDir, claims.UserID.String(), filepath.Base(filename))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("removing raw file failed", "path", path, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
