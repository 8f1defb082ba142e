package auth_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/testutil"
)

func setupStore(t *testing.T) *auth.Store {
	t.Helper()

	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := auth.NewStore(tdb.Pool, log.NewNop())
	require.NoError(t, err)
	return store
}

func TestCreateAndAuthenticate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.Create(ctx, "alice", "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "balanced", user.Precision)
	assert.NotEqual(t, uuid.Nil, user.ID)

	got, err := store.Authenticate(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = store.Authenticate(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = store.Authenticate(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestCreateDuplicate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "bob", "bob@example.com", "password123")
	require.NoError(t, err)

	_, err = store.Create(ctx, "bob", "other@example.com", "password123")
	assert.ErrorIs(t, err, auth.ErrUserExists)

	_, err = store.Create(ctx, "bob2", "bob@example.com", "password123")
	assert.ErrorIs(t, err, auth.ErrUserExists, "duplicate email should conflict")
}

func TestGetByID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.Create(ctx, "carol", "carol@example.com", "password123")
	require.NoError(t, err)

	got, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Username)
	assert.Equal(t, "carol@example.com", got.Email)

	_, err = store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestPrecisionRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.Create(ctx, "dave", "dave@example.com", "password123")
	require.NoError(t, err)

	mode, err := store.Precision(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "balanced", mode)

	require.NoError(t, store.SetPrecision(ctx, user.ID, "precise"))

	mode, err = store.Precision(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "precise", mode)

	err = store.SetPrecision(ctx, uuid.New(), "fast")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
