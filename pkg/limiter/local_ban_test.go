package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBanStore_BanAndExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewLocalBanStore()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	actor := ActorID(42)

	banned, _, err := store.IsBanned(ctx, actor, now)
	require.NoError(t, err)
	assert.False(t, banned)

	until := now.Add(5 * time.Minute)
	require.NoError(t, store.Ban(ctx, actor, until))

	banned, got, err := store.IsBanned(ctx, actor, now)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, until, got)

	// Still banned one second before the deadline.
	banned, _, err = store.IsBanned(ctx, actor, until.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, banned)

	// At the deadline the ban has lapsed; the old deadline is reported so
	// the caller can log the expiry.
	banned, got, err = store.IsBanned(ctx, actor, until)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Equal(t, until, got)

	// The lapsed entry is gone on the next lookup.
	banned, got, err = store.IsBanned(ctx, actor, until)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.True(t, got.IsZero())
}

func TestLocalBanStore_ExtendNeverShorten(t *testing.T) {
	ctx := context.Background()
	store := NewLocalBanStore()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	actor := ActorID(42)

	long := now.Add(10 * time.Minute)
	short := now.Add(time.Minute)

	require.NoError(t, store.Ban(ctx, actor, long))
	require.NoError(t, store.Ban(ctx, actor, short))

	_, got, err := store.IsBanned(ctx, actor, now)
	require.NoError(t, err)
	assert.Equal(t, long, got, "a shorter ban must not override a longer one")

	longer := now.Add(20 * time.Minute)
	require.NoError(t, store.Ban(ctx, actor, longer))

	_, got, err = store.IsBanned(ctx, actor, now)
	require.NoError(t, err)
	assert.Equal(t, longer, got)
}

func TestLocalBanStore_ClearIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewLocalBanStore()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	actor := ActorID(42)

	require.NoError(t, store.Ban(ctx, actor, now.Add(time.Hour)))
	require.NoError(t, store.Clear(ctx, actor))
	require.NoError(t, store.Clear(ctx, actor))

	banned, _, err := store.IsBanned(ctx, actor, now)
	require.NoError(t, err)
	assert.False(t, banned)
}
