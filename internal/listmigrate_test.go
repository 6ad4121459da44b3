package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigratorReplaysLegacyListPayload(t *testing.T) {
	objects := newFakeObjectStore()
	objects.blobs["lists/2020-01-05.json"] = []byte(`{"docs":[{"title":"Dune"},{"title":"Foundation"}]}`)

	store := NewStore(nil)
	resolver := NewResolver(store)
	cfg := DefaultListMigrationConfig()
	m := NewListMigrator(objects, store, resolver, cfg)

	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ListsProcessed)
	assert.Equal(t, 2, summary.ItemsResolved)
}

func TestListMigratorDryRunSkipsWrites(t *testing.T) {
	objects := newFakeObjectStore()
	objects.blobs["lists/2020-01-05.json"] = []byte(`{"docs":[{"title":"Dune"}]}`)

	store := NewStore(nil)
	resolver := NewResolver(store)
	cfg := DefaultListMigrationConfig()
	cfg.DryRun = true
	m := NewListMigrator(objects, store, resolver, cfg)

	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ItemsResolved)
	assert.Equal(t, 1, summary.ListsProcessed)
}

func TestListMigratorRespectsMaxAndSkip(t *testing.T) {
	objects := newFakeObjectStore()
	objects.blobs["lists/a.json"] = []byte(`{"docs":[]}`)
	objects.blobs["lists/b.json"] = []byte(`{"docs":[]}`)
	objects.blobs["lists/c.json"] = []byte(`{"docs":[]}`)

	store := NewStore(nil)
	resolver := NewResolver(store)
	cfg := DefaultListMigrationConfig()
	cfg.Max = 1
	cfg.Skip = 1
	m := NewListMigrator(objects, store, resolver, cfg)

	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ListsProcessed)
}
