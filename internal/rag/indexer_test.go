package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirakuhq/hiraku/internal/document"
	"github.com/hirakuhq/hiraku/internal/knowledge"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/testutil"
)

// memoryStore records added documents keyed by ID.
type memoryStore struct {
	mu   sync.Mutex
	docs map[string]knowledge.Document
	shas map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]knowledge.Document), shas: make(map[string]bool)}
}

func (m *memoryStore) AddDocument(_ context.Context, doc knowledge.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.shas[doc.OwnerID.String()+"|"+doc.SHA256] = true
	return nil
}

func (m *memoryStore) HasDocument(_ context.Context, owner uuid.UUID, sha string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shas[owner.String()+"|"+sha], nil
}

func newTestIndexer(t *testing.T, store IndexStore) *Indexer {
	t.Helper()
	processor := document.NewProcessor(200, 40, 1<<20, log.NewNop())
	ix, err := NewIndexer(processor, &testutil.FakeEmbedder{}, store, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	return ix
}

func TestIndexFile(t *testing.T) {
	store := newMemoryStore()
	ix := newTestIndexer(t, store)
	owner := uuid.New()

	content := strings.Repeat("All work and no play makes Jack a dull boy. ", 30)
	doc, err := ix.IndexFile(context.Background(), owner, "novel.txt", strings.NewReader(content))
	require.NoError(t, err)

	stored, ok := store.docs[doc.ID]
	require.True(t, ok)
	assert.Equal(t, owner, stored.OwnerID)
	assert.Equal(t, "novel.txt", stored.Filename)
	require.Equal(t, len(doc.Chunks), len(stored.Chunks))

	// Chunk order and embedding pairing must survive the concurrent
	// batch embedding.
	for i, c := range stored.Chunks {
		assert.Equal(t, doc.Chunks[i], c.Content)
		assert.Equal(t, testutil.DeterministicVector(c.Content), c.Embedding)
	}
}

func TestIndexFileEmbedderError(t *testing.T) {
	store := newMemoryStore()
	processor := document.NewProcessor(200, 40, 1<<20, log.NewNop())
	embedder := &testutil.FakeEmbedder{Err: assert.AnError}
	ix, err := NewIndexer(processor, embedder, store, log.NewNop())
	require.NoError(t, err)
	defer ix.Close()

	_, err = ix.IndexFile(context.Background(), uuid.New(), "a.txt", strings.NewReader("some text"))
	require.Error(t, err)
	assert.Empty(t, store.docs, "nothing stored when embedding fails")
}

func TestReindexRoot(t *testing.T) {
	store := newMemoryStore()
	ix := newTestIndexer(t, store)

	root := t.TempDir()
	owner := uuid.New()
	ownerDir := filepath.Join(root, owner.String())
	require.NoError(t, os.MkdirAll(ownerDir, 0o750))

	require.NoError(t, os.WriteFile(filepath.Join(ownerDir, "a.txt"), []byte("document alpha content"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(ownerDir, "b.md"), []byte("document beta content"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(ownerDir, "skip.exe"), []byte("binary"), 0o640))
	// Directories that are not user UUIDs are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lost+found"), 0o750))

	res, err := ix.ReindexRoot(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, res.FilesAdded)
	assert.Zero(t, res.FilesSkipped)
	assert.Zero(t, res.FilesFailed)
	assert.Len(t, store.docs, 2)
}

func TestReindexRootSkipsKnownContent(t *testing.T) {
	store := newMemoryStore()
	ix := newTestIndexer(t, store)

	root := t.TempDir()
	owner := uuid.New()
	ownerDir := filepath.Join(root, owner.String())
	require.NoError(t, os.MkdirAll(ownerDir, 0o750))

	content := []byte("already indexed content")
	require.NoError(t, os.WriteFile(filepath.Join(ownerDir, "seen.txt"), content, 0o640))

	// Pretend the file was indexed before.
	sum := sha256.Sum256(content)
	store.shas[owner.String()+"|"+hex.EncodeToString(sum[:])] = true

	res, err := ix.ReindexRoot(context.Background(), root)
	require.NoError(t, err)

	assert.Zero(t, res.FilesAdded)
	assert.Equal(t, 1, res.FilesSkipped)
	assert.Empty(t, store.docs)
}

func TestReindexRootMissingDir(t *testing.T) {
	ix := newTestIndexer(t, newMemoryStore())

	res, err := ix.ReindexRoot(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Zero(t, res.FilesAdded+res.FilesSkipped+res.FilesFailed)
}
