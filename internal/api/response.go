package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// writeJSON encodes data to a buffer before touching the ResponseWriter,
// so an encoding failure can still produce a clean 500 instead of a
// truncated body after the status line is gone.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// ErrorResponse is the JSON body of every error status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// maxJSONBytes caps JSON request bodies. Reached on unauthenticated
// endpoints too, so the limit guards memory before auth runs.
const maxJSONBytes = 1 << 20

// decodeJSON decodes the request body into dst, rejecting unknown
// fields, trailing garbage, and bodies over maxJSONBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return err
	}
	// A second decode must hit EOF, otherwise the body held two documents.
	if dec.More() {
		return errTrailingBody
	}
	return nil
}

var (
	errTrailingBody = errors.New("unexpected data after JSON body")
	errBodyTooLarge = errors.New("request body too large")
)

// writeDecodeError maps a decodeJSON failure to its status code.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large",
			fmt.Sprintf("JSON body exceeds %d bytes", maxJSONBytes))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
}
