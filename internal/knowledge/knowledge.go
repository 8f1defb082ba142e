// Package knowledge stores document chunks and their embeddings in
// PostgreSQL + pgvector and serves cosine-similarity retrieval.
package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist for the owner.
var ErrNotFound = errors.New("document not found")

// Chunk is one piece of a document with its embedding.
type Chunk struct {
	Content   string
	Embedding []float32
}

// Document is a processed upload plus its embedded chunks, ready to store.
type Document struct {
	ID        string
	OwnerID   uuid.UUID
	Filename  string
	FileType  string
	SizeBytes int64
	SHA256    string
	Chunks    []Chunk
}

// Info is document metadata without content, as listed to clients.
type Info struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	SizeBytes  int64     `json:"size_bytes"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result is a retrieved chunk with its similarity to the query.
type Result struct {
	ChunkID    string
	DocumentID string
	Content    string
	ChunkIndex int
	Source     string // originating filename
	Similarity float64
}
