package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/linkauth/internal/database"
)

func setupPendingTestDB(t *testing.T) (*PendingConfirmationStore, *UserStore) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return NewPendingConfirmationStore(db), NewUserStore(db)
}

func TestPendingConfirmationCreate(t *testing.T) {
	ps, _ := setupPendingTestDB(t)

	pc, err := ps.Create(context.Background(), "alice@example.com", "pledge", "pledge-42")
	require.NoError(t, err)

	assert.NotZero(t, pc.ID)
	assert.Equal(t, "pledge", pc.Kind)
	assert.Equal(t, "pledge-42", pc.Reference)
	assert.Nil(t, pc.UserID)
	assert.Nil(t, pc.ConfirmedAt)
}

func TestPendingConfirmationListUnconfirmed(t *testing.T) {
	ps, us := setupPendingTestDB(t)
	ctx := context.Background()

	a, err := ps.Create(ctx, "alice@example.com", "pledge", "1")
	require.NoError(t, err)
	b, err := ps.Create(ctx, "alice@example.com", "pledge", "2")
	require.NoError(t, err)
	_, err = ps.Create(ctx, "bob@example.com", "pledge", "3")
	require.NoError(t, err)

	list, err := ps.ListUnconfirmedByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	u, err := us.Create(ctx, "alice@example.com", true)
	require.NoError(t, err)
	ok, err := ps.Confirm(ctx, a.ID, u.ID)
	require.NoError(t, err)
	require.True(t, ok)

	list, err = ps.ListUnconfirmedByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestPendingConfirmationConfirmOnce(t *testing.T) {
	ps, us := setupPendingTestDB(t)
	ctx := context.Background()

	pc, err := ps.Create(ctx, "alice@example.com", "pledge", "1")
	require.NoError(t, err)
	u, err := us.Create(ctx, "alice@example.com", true)
	require.NoError(t, err)

	ok, err := ps.Confirm(ctx, pc.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ps.Confirm(ctx, pc.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := ps.GetByID(ctx, pc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UserID)
	assert.Equal(t, u.ID, *got.UserID)
	assert.NotNil(t, got.ConfirmedAt)
}

func TestPendingConfirmationGetByIDNotFound(t *testing.T) {
	ps, _ := setupPendingTestDB(t)

	pc, err := ps.GetByID(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, pc)
}
