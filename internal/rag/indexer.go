package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hirakuhq/hiraku/internal/document"
	"github.com/hirakuhq/hiraku/internal/knowledge"
)

// embedBatchSize is how many chunks each embedding call carries.
const embedBatchSize = 16

// DocumentEmbedder embeds a batch of texts. embeddings.Embedder satisfies it.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexStore is the slice of the knowledge store the indexer needs.
// *knowledge.Store satisfies it.
type IndexStore interface {
	AddDocument(ctx context.Context, doc knowledge.Document) error
	HasDocument(ctx context.Context, owner uuid.UUID, sha256Hex string) (bool, error)
}

// IndexResult summarizes a directory re-index.
type IndexResult struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
}

// Indexer turns uploaded files into embedded, searchable documents.
//
// Embedding calls for a document's chunks run concurrently on a shared
// worker pool; Close releases the pool.
type Indexer struct {
	processor *document.Processor
	embedder  DocumentEmbedder
	store     IndexStore
	pool      *ants.Pool
	logger    *slog.Logger
}

// NewIndexer creates an Indexer with a worker pool sized to half the
// available CPUs (minimum one).
func NewIndexer(processor *document.Processor, embedder DocumentEmbedder, store IndexStore, logger *slog.Logger) (*Indexer, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	workers := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Indexer{
		processor: processor,
		embedder:  embedder,
		store:     store,
		pool:      pool,
		logger:    logger,
	}, nil
}

// Close releases the worker pool.
func (ix *Indexer) Close() {
	ix.pool.Release()
}

// IndexFile processes, embeds and stores a single file for owner.
// Re-uploading identical content replaces the existing document.
func (ix *Indexer) IndexFile(ctx context.Context, owner uuid.UUID, filename string, r io.Reader) (*document.Document, error) {
	doc, err := ix.processor.Process(ctx, owner.String(), filename, r)
	if err != nil {
		return nil, err
	}

	embeddings, err := ix.embedChunks(ctx, doc.Chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", doc.Filename, err)
	}

	chunks := make([]knowledge.Chunk, len(doc.Chunks))
	for i, content := range doc.Chunks {
		chunks[i] = knowledge.Chunk{Content: content, Embedding: embeddings[i]}
	}

	stored := knowledge.Document{
		ID:        doc.ID,
		OwnerID:   owner,
		Filename:  doc.Filename,
		FileType:  doc.FileType,
		SizeBytes: doc.SizeBytes,
		SHA256:    doc.SHA256,
		Chunks:    chunks,
	}
	if err := ix.store.AddDocument(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing %q: %w", doc.Filename, err)
	}

	ix.logger.Info("indexed document",
		"owner", owner, "id", doc.ID, "filename", doc.Filename, "chunks", len(chunks))
	return doc, nil
}

// embedChunks embeds chunks in batches on the worker pool, preserving
// chunk order. The first batch error cancels the remaining work.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(chunks))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))

		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := ix.embedder.EmbedDocuments(ctx, chunks[start:end])
			if err != nil {
				fail(err)
				return
			}
			if len(vecs) != end-start {
				fail(fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start))
				return
			}
			copy(out[start:end], vecs)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting embed batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReindexRoot walks root/<ownerUUID>/* and indexes every supported file
// not already stored for that owner. Unreadable owners or files are
// counted as failures, not fatal errors; only context cancellation
// aborts the walk.
func (ix *Indexer) ReindexRoot(ctx context.Context, root string) (IndexResult, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return IndexResult{}, nil
	}
	if err != nil {
		return IndexResult{}, fmt.Errorf("reading upload root: %w", err)
	}

	var (
		mu    sync.Mutex
		total IndexResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		owner, err := uuid.Parse(entry.Name())
		if err != nil {
			// Not an owner directory.
			continue
		}
		dir := filepath.Join(root, entry.Name())

		g.Go(func() error {
			res, err := ix.reindexOwner(ctx, owner, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			total.FilesAdded += res.FilesAdded
			total.FilesSkipped += res.FilesSkipped
			total.FilesFailed += res.FilesFailed
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}

	if total.FilesAdded > 0 || total.FilesFailed > 0 {
		ix.logger.Info("re-index complete",
			"added", total.FilesAdded, "skipped", total.FilesSkipped, "failed", total.FilesFailed)
	}
	return total, nil
}

func (ix *Indexer) reindexOwner(ctx context.Context, owner uuid.UUID, dir string) (IndexResult, error) {
	var res IndexResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		ix.logger.Warn("skipping unreadable owner directory", "dir", dir, "error", err)
		res.FilesFailed++
		return res, nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.IsDir() || !ix.processor.Supported(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		indexed, err := ix.reindexFile(ctx, owner, path)
		switch {
		case err != nil:
			ix.logger.Warn("re-index failed", "owner", owner, "path", path, "error", err)
			res.FilesFailed++
		case indexed:
			res.FilesAdded++
		default:
			res.FilesSkipped++
		}
	}
	return res, nil
}

// reindexFile indexes one file unless identical content is already
// stored for the owner. It reports whether indexing happened.
func (ix *Indexer) reindexFile(ctx context.Context, owner uuid.UUID, path string) (bool, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	exists, err := ix.store.HasDocument(ctx, owner, sum)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := ix.IndexFile(ctx, owner, filepath.Base(path), f); err != nil {
		return false, err
	}
	return true, nil
}

// fileSHA256 returns the hex digest of the file at path.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
