package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hirakuhq/hiraku/internal/document"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/rag"
)

// errInvalidFilename rejects upload filenames that resolve to no usable
// base name, such as "." or "..".
var errInvalidFilename = errors.New("invalid filename")

// UploadHandler accepts document uploads and hands them to the indexer.
// Uploaded files are kept on disk under uploadDir/<ownerID>/ so they
// survive a rebuild of the vector index.
type UploadHandler struct {
	indexer   *rag.Indexer
	uploadDir string
	maxBytes  int64
	logger    log.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(indexer *rag.Indexer, uploadDir string, maxBytes int64, logger log.Logger) *UploadHandler {
	return &UploadHandler{indexer: indexer, uploadDir: uploadDir, maxBytes: maxBytes, logger: logger}
}

// RegisterRoutes registers upload routes on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", h.upload)
}

// UploadResponse describes an indexed upload.
type UploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	SizeBytes  int64  `json:"size_bytes"`
	ChunkCount int    `json:"chunk_count"`
}

func (h *UploadHandler) upload(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20) // slack for multipart framing
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", `multipart field "file" is required`)
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}

	// Persist the raw file first so a crash between save and index is
	// recoverable by the startup re-index.
	path, err := h.saveFile(claims.UserID, header.Filename, file)
	if errors.Is(err, errInvalidFilename) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid filename")
		return
	}
	if err != nil {
		h.logger.Error("saving upload failed", "user", claims.UserID, "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store file")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("reopening upload failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store file")
		return
	}
	defer f.Close()

	doc, err := h.indexer.IndexFile(r.Context(), claims.UserID, header.Filename, f)
	if err != nil {
		// A file that cannot be indexed should not linger on disk where
		// the startup re-index would retry it forever.
		_ = os.Remove(path)
		h.writeIndexError(w, claims.UserID, header.Filename, err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		ID:         doc.ID,
		Filename:   doc.Filename,
		FileType:   doc.FileType,
		SizeBytes:  doc.SizeBytes,
		ChunkCount: len(doc.Chunks),
	})
}

func (h *UploadHandler) writeIndexError(w http.ResponseWriter, owner uuid.UUID, filename string, err error) {
	switch {
	case errors.Is(err, document.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_type", err.Error())
	case errors.Is(err, document.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, "no_content", "no extractable text in file")
	case errors.Is(err, document.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	default:
		h.logger.Error("indexing failed", "user", owner, "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not index file")
	}
}

// saveFile writes the upload under uploadDir/<ownerID>/<basename> and
// returns the final path. The base name is sanitized so a crafted
// filename cannot escape the owner's directory.
func (h *UploadHandler) saveFile(owner uuid.UUID, filename string, src io.Reader) (string, error) {
	base := filepath.Base(filepath.Clean(filename))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("%w: %q", errInvalidFilename, filename)
	}

	dir := filepath.Join(h.uploadDir, owner.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	path := filepath.Join(dir, base)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("closing file: %w", err)
	}
	return path, nil
}
