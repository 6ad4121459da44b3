package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A nil *Store represents feature.database.enabled=false: every method
// must report ErrDisabled rather than panicking on a nil pool, so the
// tiered fetcher can pattern-match on the capability being absent.
func TestDisabledStoreReturnsErrDisabled(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, err := s.FetchByCanonicalID(ctx, "b1")
	assert.ErrorIs(t, err, ErrDisabled)

	err = s.UpsertBook(ctx, CanonicalBook{BookID: "b1"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = s.EnsureUniqueSlug(ctx, "dune")
	assert.ErrorIs(t, err, ErrDisabled)

	err = s.RefreshSearchView(ctx)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNewStoreWithNilPoolIsDisabled(t *testing.T) {
	s := NewStore(nil)
	assert.False(t, s.enabled())
}
