package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugifyNormalisesTitle(t *testing.T) {
	assert.Equal(t, "dune", slugify("Dune"))
	assert.Equal(t, "the-lord-of-the-rings", slugify("The Lord of the Rings"))
	assert.Equal(t, "20-000-leagues-under-the-sea", slugify("20,000 Leagues Under the Sea"))
}

// With the relational tier disabled (nil *Store), every lookup branch
// returns ErrDisabled which the resolver treats the same as "not
// found" -- it always falls through to minting a fresh UUID.
func TestLookupOrMintMintsWhenStoreDisabled(t *testing.T) {
	r := NewResolver(NewStore(nil))
	ctx := context.Background()

	id, minted, err := r.lookupOrMint(ctx, Candidate{
		Book:             CanonicalBook{ISBN13: "9780441013593"},
		ProviderVolumeID: "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, minted)
}

func TestResolveSlugMintsFromTitleWhenStoreDisabled(t *testing.T) {
	r := NewResolver(NewStore(nil))
	ctx := context.Background()

	slug, err := r.resolveSlug(ctx, "b1", CanonicalBook{Title: "Dune"})
	require.NoError(t, err)
	assert.Equal(t, "dune", slug)
}

// Resolve must fully succeed against a disabled store: every
// persistence step it performs (UpsertBook, UpsertExternalMapping,
// UpsertRawSnapshot, UpsertImageLink) reports ErrDisabled, and none of
// those should abort resolution -- only a genuine storage failure
// should.
func TestResolveSucceedsWhenStoreDisabled(t *testing.T) {
	r := NewResolver(NewStore(nil))
	ctx := context.Background()

	book, err := r.Resolve(ctx, Candidate{
		Book:             CanonicalBook{Title: "Dune", ISBN13: "9780441013593", CoverImageURL: "http://example.com/cover.jpg"},
		ProviderVolumeID: "abc123",
	}, "primary-authed", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.NotEmpty(t, book.BookID)
	assert.Equal(t, "dune", book.Slug)
}

func TestSyncEditionGroupNoopOnEmptyCluster(t *testing.T) {
	r := NewResolver(NewStore(nil))
	err := r.SyncEditionGroup(context.Background(), nil)
	assert.NoError(t, err)
}

func TestSyncEditionGroupToleratesDisabledStore(t *testing.T) {
	r := NewResolver(NewStore(nil))
	// DeleteEditionLinksFor/UpsertEditionLink on a disabled store both
	// return ErrDisabled, which SyncEditionGroup must treat as a no-op,
	// consistent with the optional-store contract Resolve itself honours.
	err := r.SyncEditionGroup(context.Background(), []CanonicalBook{{BookID: "b1"}})
	assert.NoError(t, err)
}
