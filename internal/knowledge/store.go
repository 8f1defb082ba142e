package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages documents and their embedded chunks.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	pool   *pgxpool.Pool // nil in querier-mock tests; disables transactions
	logger *slog.Logger
}

// NewStore creates a Store. pool may be nil in tests with a mock querier,
// in which case AddDocument runs non-transactionally.
func NewStore(db querier, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, pool: pool, logger: logger}, nil
}

const upsertDocumentSQL = `INSERT INTO documents
	(id, owner_id, filename, file_type, size_bytes, chunk_count, content_sha256)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		filename = EXCLUDED.filename,
		file_type = EXCLUDED.file_type,
		size_bytes = EXCLUDED.size_bytes,
		chunk_count = EXCLUDED.chunk_count,
		content_sha256 = EXCLUDED.content_sha256`

const insertChunkSQL = `INSERT INTO chunks
	(id, document_id, owner_id, content, chunk_index, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)`

// AddDocument stores a document and all its chunks. Re-adding a document
// with the same ID replaces its chunk set. The write is atomic: a document
// row never exists with a partial chunk set.
func (s *Store) AddDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.OwnerID == uuid.Nil {
		return fmt.Errorf("owner ID is required")
	}
	if len(doc.Chunks) == 0 {
		return fmt.Errorf("document %q has no chunks", doc.ID)
	}

	if s.pool == nil {
		return s.addDocument(ctx, s.db, doc)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back add-document transaction", "error", rbErr)
		}
	}()

	if err := s.addDocument(ctx, tx, doc); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document %q: %w", doc.ID, err)
	}

	s.logger.Debug("stored document", "id", doc.ID, "owner", doc.OwnerID, "chunks", len(doc.Chunks))
	return nil
}

func (s *Store) addDocument(ctx context.Context, q querier, doc Document) error {
	_, err := q.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.OwnerID, doc.Filename, doc.FileType,
		doc.SizeBytes, len(doc.Chunks), doc.SHA256)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	// Replace any chunks from a previous version of this document.
	if _, err := q.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clearing old chunks for %q: %w", doc.ID, err)
	}

	for i, chunk := range doc.Chunks {
		vec := pgvector.NewVector(chunk.Embedding)
		chunkID := fmt.Sprintf("%s_chunk_%d", doc.ID, i)
		if _, err := q.Exec(ctx, insertChunkSQL,
			chunkID, doc.ID, doc.OwnerID, chunk.Content, i, vec); err != nil {
			return fmt.Errorf("inserting chunk %d of %q: %w", i, doc.ID, err)
		}
	}

	return nil
}

const searchSQL = `SELECT c.id, c.document_id, c.content, c.chunk_index, d.filename,
	1 - (c.embedding <=> $1) AS similarity
	FROM chunks c
	JOIN documents d ON d.id = c.document_id
	WHERE c.owner_id = $2
	ORDER BY c.embedding <=> $1
	LIMIT $3`

// Search returns the chunks most similar to the query embedding, restricted
// to the given owner. Results are ordered by descending similarity.
func (s *Store) Search(ctx context.Context, owner uuid.UUID, embedding []float32, opts ...SearchOption) ([]Result, error) {
	if owner == uuid.Nil {
		return nil, fmt.Errorf("owner ID is required")
	}
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Query(queryCtx, searchSQL, vec, owner, cfg.topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.ChunkIndex, &r.Source, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if r.Similarity < cfg.minSimilarity {
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	return results, nil
}

// ListDocuments returns the owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, owner uuid.UUID) ([]Info, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, filename, file_type, size_bytes, chunk_count, created_at
		 FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	infos := make([]Info, 0)
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Filename, &info.FileType,
			&info.SizeBytes, &info.ChunkCount, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}

	return infos, nil
}

// DeleteDocument removes a document and its chunks (via CASCADE).
// Returns ErrNotFound when the document does not exist for the owner,
// which also covers attempts to delete another user's document.
func (s *Store) DeleteDocument(ctx context.Context, owner uuid.UUID, docID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND owner_id = $2`, docID, owner)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted document", "id", docID, "owner", owner)
	return nil
}

// CountChunks returns the number of chunks stored for the owner.
func (s *Store) CountChunks(ctx context.Context, owner uuid.UUID) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE owner_id = $1`, owner).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// HasDocument reports whether the owner already has a document with the
// given raw-content digest. Used to skip re-indexing unchanged files.
func (s *Store) HasDocument(ctx context.Context, owner uuid.UUID, sha256Hex string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE owner_id = $1 AND content_sha256 = $2)`,
		owner, sha256Hex).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking document digest: %w", err)
	}
	return exists, nil
}
