// Package document turns uploaded files into chunked plain text.
//
// Extraction and chunking are delegated to langchaingo's document loaders
// and recursive-character splitter; this package only decides which loader
// applies, enforces size/type limits, and derives stable IDs and metadata.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Sentinel errors for processing failures.
var (
	// ErrUnsupportedType is returned for file extensions outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoContent is returned when extraction produces no text.
	ErrNoContent = errors.New("no extractable text content")

	// ErrTooLarge is returned when the file exceeds the configured size limit.
	ErrTooLarge = errors.New("file too large")
)

// supportedExtensions are the file types we can extract text from.
var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".csv":  true,
	".json": true,
	".html": true,
	".htm":  true,
	".log":  true,
	".yaml": true,
	".yml":  true,
	".xml":  true,
}

// Document is a processed upload ready for embedding.
type Document struct {
	ID        string   // stable content-derived identifier
	Filename  string   // original filename (base name only)
	FileType  string   // MIME type guessed from the extension
	SizeBytes int64    // raw file size
	SHA256    string   // hex digest of the raw content
	Content   string   // full extracted text
	Chunks    []string // split text, in order
}

// Processor extracts and chunks uploaded files.
//
// Processor is safe for concurrent use by multiple goroutines.
type Processor struct {
	splitter textsplitter.RecursiveCharacter
	maxBytes int64
	logger   *slog.Logger
}

// NewProcessor creates a Processor with the given chunking parameters.
func NewProcessor(chunkSize, chunkOverlap int, maxBytes int64, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Supported reports whether the filename's extension is processable.
func (*Processor) Supported(filename string) bool {
	// Hidden files are never indexed.
	if strings.HasPrefix(filepath.Base(filename), ".") {
		return false
	}
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Process extracts text from r and splits it into chunks.
// ownerID participates in ID derivation so two users uploading the same
// file get distinct document IDs.
func (p *Processor) Process(ctx context.Context, ownerID, filename string, r io.Reader) (*Document, error) {
	base := filepath.Base(filename)
	if !p.Supported(base) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(base))
	}

	// Loaders need random access (PDF) so the file is buffered up front;
	// the size limit bounds memory.
	data, err := readCapped(r, p.maxBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoContent
	}

	content, err := p.extract(ctx, base, data)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrNoContent
	}

	chunks, err := p.splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("splitting %q: %w", base, err)
	}

	rawSum := sha256.Sum256(data)
	doc := &Document{
		ID:        docID(ownerID, base, content),
		Filename:  base,
		FileType:  mimeType(base),
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(rawSum[:]),
		Content:   content,
		Chunks:    chunks,
	}

	p.logger.Debug("processed document",
		"id", doc.ID, "filename", base, "bytes", doc.SizeBytes, "chunks", len(chunks))
	return doc, nil
}

// extract runs the loader matching the file extension.
func (p *Processor) extract(ctx context.Context, filename string, data []byte) (string, error) {
	var (
		docs []schema.Document
		err  error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		docs, err = documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	case ".csv":
		docs, err = documentloaders.NewCSV(bytes.NewReader(data)).Load(ctx)
	case ".html", ".htm":
		docs, err = documentloaders.NewHTML(bytes.NewReader(data)).Load(ctx)
	case ".json":
		return prettyJSON(data)
	default:
		docs, err = documentloaders.NewText(bytes.NewReader(data)).Load(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %q: %w", filename, err)
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.PageContent != "" {
			parts = append(parts, d.PageContent)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// prettyJSON re-indents JSON so structure survives into chunks.
func prettyJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrNoContent, err)
	}
	return buf.String(), nil
}

// readCapped reads r fully, failing once maxBytes is exceeded.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// docID derives a stable document identifier from owner, name and content.
func docID(ownerID, filename, content string) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(filename))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// mimeType guesses the MIME type from the extension, defaulting to
// application/octet-stream like the stdlib does for unknowns.
func mimeType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}
