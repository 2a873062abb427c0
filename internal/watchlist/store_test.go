package watchlist

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "watchlist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddListRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, "08156800"))
	require.NoError(t, store.Add(ctx, "08158600"))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].AlertsEnabled, "alerts default on")
	assert.Nil(t, entries[0].WatchLevel)
	assert.False(t, entries[0].AddedAt.IsZero())

	watched, err := store.IsWatched(ctx, "08156800")
	require.NoError(t, err)
	assert.True(t, watched)

	require.NoError(t, store.Remove(ctx, "08156800"))
	watched, err = store.IsWatched(ctx, "08156800")
	require.NoError(t, err)
	assert.False(t, watched)

	// Removing again is a no-op.
	require.NoError(t, store.Remove(ctx, "08156800"))
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, "08156800"))
	_, err := store.ToggleAlerts(ctx, "08156800")
	require.NoError(t, err)

	// Re-adding must not reset the alert flag.
	require.NoError(t, store.Add(ctx, "08156800"))
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].AlertsEnabled)
}

func TestToggleAlerts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, "08156800"))

	enabled, err := store.ToggleAlerts(ctx, "08156800")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = store.ToggleAlerts(ctx, "08156800")
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = store.ToggleAlerts(ctx, "unknown")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSetThresholds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Add(ctx, "08156800"))

	watch, warning := 1.5, 2.5
	require.NoError(t, store.SetThresholds(ctx, "08156800", &watch, &warning))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].WatchLevel)
	assert.Equal(t, 1.5, *entries[0].WatchLevel)
	require.NotNil(t, entries[0].WarningLevel)
	assert.Equal(t, 2.5, *entries[0].WarningLevel)

	// Partial update leaves the other level in place.
	newWatch := 1.8
	require.NoError(t, store.SetThresholds(ctx, "08156800", &newWatch, nil))
	entries, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.8, *entries[0].WatchLevel)
	assert.Equal(t, 2.5, *entries[0].WarningLevel)

	err = store.SetThresholds(ctx, "unknown", &watch, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	value, err := store.Preference(ctx, "radius_km")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetPreference(ctx, "radius_km", "25"))
	require.NoError(t, store.SetPreference(ctx, "radius_km", "50"))

	value, err = store.Preference(ctx, "radius_km")
	require.NoError(t, err)
	assert.Equal(t, "50", value)
}
