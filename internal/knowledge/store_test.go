package knowledge_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirakuhq/hiraku/internal/knowledge"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/testutil"
)

type fixture struct {
	store *knowledge.Store
	owner uuid.UUID
	other uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := knowledge.NewStore(tdb.Pool, tdb.Pool, log.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	f := &fixture{store: store}

	// Documents reference users, so both owners must exist.
	for i, id := range []*uuid.UUID{&f.owner, &f.other} {
		var uid uuid.UUID
		err := tdb.Pool.QueryRow(ctx,
			`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
			fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i),
		).Scan(&uid)
		require.NoError(t, err)
		*id = uid
	}
	return f
}

func testDocument(owner uuid.UUID, id string, contents ...string) knowledge.Document {
	chunks := make([]knowledge.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = knowledge.Chunk{Content: c, Embedding: testutil.DeterministicVector(c)}
	}
	return knowledge.Document{
		ID:        id,
		OwnerID:   owner,
		Filename:  id + ".txt",
		FileType:  "text/plain",
		SizeBytes: 100,
		SHA256:    "sha-" + id,
		Chunks:    chunks,
	}
}

func TestAddAndSearch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc := testDocument(f.owner, "doc1", "postgres stores relational data", "tokyo is the capital of japan")
	require.NoError(t, f.store.AddDocument(ctx, doc))

	count, err := f.store.CountChunks(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Searching with a chunk's exact embedding must rank that chunk first
	// with similarity ~1.
	query := testutil.DeterministicVector("tokyo is the capital of japan")
	results, err := f.store.Search(ctx, f.owner, query, knowledge.WithTopK(2))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "tokyo is the capital of japan", results[0].Content)
	assert.Equal(t, "doc1.txt", results[0].Source)
	assert.Equal(t, "doc1", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.01)
}

func TestSearchOwnerIsolation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "mine", "private information")))

	query := testutil.DeterministicVector("private information")
	results, err := f.store.Search(ctx, f.other, query)
	require.NoError(t, err)
	assert.Empty(t, results, "another user's chunks must be invisible")

	count, err := f.store.CountChunks(ctx, f.other)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddDocumentReplacesChunks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "v1 chunk a", "v1 chunk b", "v1 chunk c")))
	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "v2 only chunk")))

	count, err := f.store.CountChunks(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-adding a document must replace its chunks, not accumulate")

	query := testutil.DeterministicVector("v2 only chunk")
	results, err := f.store.Search(ctx, f.owner, query, knowledge.WithTopK(5))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2 only chunk", results[0].Content)
}

func TestListDocuments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "older", "a")))
	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "newer", "b", "c")))
	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.other, "theirs", "d")))

	docs, err := f.store.ListDocuments(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	ids := []string{docs[0].ID, docs[1].ID}
	assert.Contains(t, ids, "older")
	assert.Contains(t, ids, "newer")
	for _, d := range docs {
		if d.ID == "newer" {
			assert.Equal(t, 2, d.ChunkCount)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "a", "b")))

	require.NoError(t, f.store.DeleteDocument(ctx, f.owner, "doc1"))

	count, err := f.store.CountChunks(ctx, f.owner)
	require.NoError(t, err)
	assert.Zero(t, count, "chunks must cascade with the document")

	err = f.store.DeleteDocument(ctx, f.owner, "doc1")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestDeleteDocumentOwnerScoped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "a")))

	err := f.store.DeleteDocument(ctx, f.other, "doc1")
	assert.ErrorIs(t, err, knowledge.ErrNotFound, "deleting another user's document must fail")

	count, err := f.store.CountChunks(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHasDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "a")))

	ok, err := f.store.HasDocument(ctx, f.owner, "sha-doc1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.HasDocument(ctx, f.owner, "sha-unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.store.HasDocument(ctx, f.other, "sha-doc1")
	require.NoError(t, err)
	assert.False(t, ok, "content hashes are per owner")
}

func TestSearchMinSimilarity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddDocument(ctx, testDocument(f.owner, "doc1", "alpha", "beta")))

	// An exact-match query with a high floor keeps only the exact chunk.
	query := testutil.DeterministicVector("alpha")
	results, err := f.store.Search(ctx, f.owner, query,
		knowledge.WithTopK(5), knowledge.WithMinSimilarity(0.99))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Content)
}
