package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapsync/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	u := &store.User{Username: "alice", FirstName: "Alice", LastName: "A", Email: "alice@x.com"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	got, err := s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	got.Email = "a.liddell@x.com"
	require.NoError(t, s.SaveUser(ctx, got))

	got, err = s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a.liddell@x.com", got.Email)
}

func TestGetOrInitProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{Username: "alice"}
	require.NoError(t, s.CreateUser(ctx, u))

	p, found, err := s.GetOrInitProfile(ctx, u)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, u.ID, p.UserID)
	assert.Zero(t, p.ID)

	p.ExternalID = "1042"
	require.NoError(t, s.SaveProfile(ctx, p))
	assert.NotZero(t, p.ID)

	p2, found, err := s.GetOrInitProfile(ctx, u)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1042", p2.ExternalID)
}

func TestSaveProfileConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := &store.User{Username: "alice"}
	bob := &store.User{Username: "bob"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))

	require.NoError(t, s.SaveProfile(ctx, &store.Profile{UserID: alice.ID, ExternalID: "1042"}))

	err := s.SaveProfile(ctx, &store.Profile{UserID: bob.ID, ExternalID: "1042"})
	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "1042", conflict.ExternalID)

	// bob can still get a profile with a distinct id afterwards
	require.NoError(t, s.SaveProfile(ctx, &store.Profile{UserID: bob.ID, ExternalID: "1043"}))
}

func TestSaveProfileUserIDViolationIsNotConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := &store.User{Username: "alice"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.SaveProfile(ctx, &store.Profile{UserID: alice.ID, ExternalID: "1042"}))

	// a second profile row for the same user trips the user_id constraint,
	// which is a store failure, not an external-id collision
	err := s.SaveProfile(ctx, &store.Profile{UserID: alice.ID, ExternalID: "9999"})
	require.Error(t, err)

	var conflict *store.ConflictError
	assert.False(t, errors.As(err, &conflict))
	var storeErr *store.StoreError
	assert.True(t, errors.As(err, &storeErr))
}

func TestGroupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindGroupByName(ctx, "engineering")
	assert.ErrorIs(t, err, store.ErrNotFound)

	g := &store.Group{Name: "engineering"}
	require.NoError(t, s.CreateGroup(ctx, g))
	assert.NotZero(t, g.ID)

	got, err := s.FindGroupByName(ctx, "engineering")
	require.NoError(t, err)
	assert.Equal(t, g, got)
}
