package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeletionStore struct {
	count   int
	deleted []string
}

func (f *fakeDeletionStore) ListingCount(ctx context.Context) (int, error) { return f.count, nil }

func (f *fakeDeletionStore) DeleteListing(ctx context.Context, listingKey string) error {
	f.deleted = append(f.deleted, listingKey)
	return nil
}

type fakeDeletionIndexer struct {
	deleted []string
}

func (f *fakeDeletionIndexer) Delete(ctx context.Context, listingKey string) error {
	f.deleted = append(f.deleted, listingKey)
	return nil
}

type fakeObjectPurger struct {
	listed  []string
	deleted [][]string
}

func (f *fakeObjectPurger) ListUnder(ctx context.Context, prefix string) ([]string, error) {
	f.listed = append(f.listed, prefix)
	return []string{prefix + "1.jpg"}, nil
}

func (f *fakeObjectPurger) DeleteMany(ctx context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys)
	return nil
}

// TestDeletionsDriverSkipsCascadeBelowFreshStartThreshold verifies the
// guard against misreading a freshly reset (near-empty) store as "delete
// everything": below freshStartThreshold the driver must not touch the DB,
// search index, or object store, even though the tombstone page says so.
func TestDeletionsDriverSkipsCascadeBelowFreshStartThreshold(t *testing.T) {
	store := &fakeDeletionStore{count: freshStartThreshold - 1}
	indexer := &fakeDeletionIndexer{}
	objects := &fakeObjectPurger{}
	states := newFakeSyncStateStore()

	d := NewDeletionsDriver(nil, states, store, indexer, objects, "prefix", "TEST", 100, 0, zerolog.Nop())

	modified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []map[string]any{record("gone-1", modified), record("gone-2", modified)}

	maxModified, err := d.Process(context.Background(), records)
	require.NoError(t, err)
	assert.True(t, maxModified.Equal(modified))
	assert.Empty(t, store.deleted)
	assert.Empty(t, indexer.deleted)
	assert.Empty(t, objects.listed)
}

// TestDeletionsDriverCascadesAboveFreshStartThreshold verifies the full
// cascade: object-store prefix cleanup, search-index delete, then the DB
// delete, once the local store is past the fresh-start threshold.
func TestDeletionsDriverCascadesAboveFreshStartThreshold(t *testing.T) {
	store := &fakeDeletionStore{count: freshStartThreshold + 1}
	indexer := &fakeDeletionIndexer{}
	objects := &fakeObjectPurger{}
	states := newFakeSyncStateStore()

	d := NewDeletionsDriver(nil, states, store, indexer, objects, "prefix", "TEST", 100, 0, zerolog.Nop())

	modified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []map[string]any{record("gone-1", modified)}

	maxModified, err := d.Process(context.Background(), records)
	require.NoError(t, err)
	assert.True(t, maxModified.Equal(modified))
	assert.Equal(t, []string{"gone-1"}, store.deleted)
	assert.Equal(t, []string{"gone-1"}, indexer.deleted)
	assert.Len(t, objects.listed, 1)
	assert.Contains(t, objects.listed[0], "prefix/test/gone-1/")
	assert.Len(t, objects.deleted, 1)
}
