package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/linkauth/internal/database"
	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupResolver(t *testing.T) (*Resolver, *store.UserStore) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	us := store.NewUserStore(db)
	return NewResolver(us, discardLogger), us
}

func TestResolveCreatesVerifiedUser(t *testing.T) {
	r, us := setupResolver(t)
	ctx := context.Background()

	u, err := r.Resolve(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, u.Verified)

	stored, err := us.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, u.ID, stored.ID)
	assert.True(t, stored.Verified)
}

func TestResolveVerifiesExistingUser(t *testing.T) {
	r, us := setupResolver(t)
	ctx := context.Background()

	existing, err := us.Create(ctx, "a@x.com", false)
	require.NoError(t, err)

	u, err := r.Resolve(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, u.ID)
	assert.True(t, u.Verified)

	// resolving again never reverts the flag
	u, err = r.Resolve(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, u.Verified)
	stored, err := us.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, stored.Verified)
}

func TestResolveConcurrentFirstSignIn(t *testing.T) {
	r, us := setupResolver(t)
	ctx := context.Background()

	const n = 8
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := r.Resolve(ctx, "race@x.com")
			if assert.NoError(t, err) {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	stored, err := us.GetByEmail(ctx, "race@x.com")
	require.NoError(t, err)
	assert.Equal(t, ids[0], stored.ID)
}

// racingUsers simulates another sign-in inserting the row between our lookup
// and our insert.
type racingUsers struct {
	mu       sync.Mutex
	user     *model.User
	lookups  int
	hideFor  int
	creates  int
	verified []int64
}

func (f *racingUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, nil
}

func (f *racingUsers) GetByEmail(context.Context, string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookups <= f.hideFor {
		return nil, nil
	}
	return f.user, nil
}

func (f *racingUsers) Create(context.Context, string, bool) (*model.User, error) {
	f.creates++
	return nil, fmt.Errorf("insert: %w", store.ErrDuplicateEmail)
}

func (f *racingUsers) MarkVerified(_ context.Context, id int64) error {
	f.verified = append(f.verified, id)
	return nil
}

func TestResolveDuplicateEmailRefetches(t *testing.T) {
	users := &racingUsers{
		user:    &model.User{ID: 9, Email: "a@x.com", Verified: false},
		hideFor: 2, // first lookup plus one retry see nothing
	}
	r := NewResolver(users, discardLogger)

	u, err := r.Resolve(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(9), u.ID)
	assert.True(t, u.Verified)
	assert.Equal(t, 1, users.creates)
	assert.Equal(t, []int64{9}, users.verified)
}

func TestResolveDuplicateEmailGivesUp(t *testing.T) {
	users := &racingUsers{hideFor: 100}
	r := NewResolver(users, discardLogger)

	_, err := r.Resolve(context.Background(), "a@x.com")
	assert.Error(t, err)
}

type failingUsers struct{ racingUsers }

func (*failingUsers) GetByEmail(context.Context, string) (*model.User, error) {
	return nil, errors.New("database is locked")
}

func TestResolveStoreError(t *testing.T) {
	r := NewResolver(&failingUsers{}, discardLogger)

	_, err := r.Resolve(context.Background(), "a@x.com")
	assert.ErrorContains(t, err, "database is locked")
}

func TestSerializeDeserialize(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	u, err := r.Resolve(ctx, "a@x.com")
	require.NoError(t, err)

	got, err := r.Deserialize(ctx, Serialize(u))
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = r.Deserialize(ctx, 424242)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestFindCreateMarkVerified(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	u, err := r.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = r.CreateUser(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.False(t, u.Verified)

	require.NoError(t, r.MarkVerified(ctx, u))
	got, err := r.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, got.Verified)
}
