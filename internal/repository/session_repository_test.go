package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/loft/internal/domain"
	"github.com/jbweber/homelab/loft/internal/testutil"
)

func TestSessionRepository_Lifecycle(t *testing.T) {
	ds, cleanup := testutil.SetupTestDatastore(t, "TestSessionRepository_Lifecycle")
	defer cleanup()
	ctx := context.Background()

	user := testutil.CreateUser(t, ds, "alice")
	repo, err := NewSessionRepository(ds)
	require.NoError(t, err)

	exists, err := repo.Exists(ctx, "nonce-a", user)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Create(ctx, domain.Session{Nonce: "nonce-a", UserID: user}))

	exists, err = repo.Exists(ctx, "nonce-a", user)
	require.NoError(t, err)
	assert.True(t, exists)

	err = repo.Create(ctx, domain.Session{Nonce: "nonce-a", UserID: user})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, repo.Delete(ctx, "nonce-a", user))
	exists, err = repo.Exists(ctx, "nonce-a", user)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, repo.Delete(ctx, "nonce-a", user), ErrNotFound)

	// lookups keep working after the cached statement is released
	require.NoError(t, repo.Close())
	exists, err = repo.Exists(ctx, "nonce-a", user)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSessionRepository_NonceBoundToUser(t *testing.T) {
	ds, cleanup := testutil.SetupTestDatastore(t, "TestSessionRepository_NonceBoundToUser")
	defer cleanup()
	ctx := context.Background()

	alice := testutil.CreateUser(t, ds, "alice")
	bob := testutil.CreateUser(t, ds, "bob")
	repo, err := NewSessionRepository(ds)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, domain.Session{Nonce: "shared", UserID: alice}))

	exists, err := repo.Exists(ctx, "shared", bob)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSessionRepository_DeleteAllForUser(t *testing.T) {
	ds, cleanup := testutil.SetupTestDatastore(t, "TestSessionRepository_DeleteAllForUser")
	defer cleanup()
	ctx := context.Background()

	alice := testutil.CreateUser(t, ds, "alice")
	bob := testutil.CreateUser(t, ds, "bob")
	repo, err := NewSessionRepository(ds)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, domain.Session{Nonce: "a1", UserID: alice}))
	require.NoError(t, repo.Create(ctx, domain.Session{Nonce: "a2", UserID: alice}))
	require.NoError(t, repo.Create(ctx, domain.Session{Nonce: "b1", UserID: bob}))

	n, err := repo.DeleteAllForUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exists, err := repo.Exists(ctx, "b1", bob)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSessionRepository_UnknownUserRejected(t *testing.T) {
	ds, cleanup := testutil.SetupTestDatastore(t, "TestSessionRepository_UnknownUserRejected")
	defer cleanup()

	repo, err := NewSessionRepository(ds)
	require.NoError(t, err)
	assert.Error(t, repo.Create(context.Background(), domain.Session{Nonce: "n", UserID: 404}))
}
