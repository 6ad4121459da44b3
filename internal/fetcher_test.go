package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name           string
	volumeByID     []byte
	volumeByIDErr  error
	byISBN         []byte
	byISBNErr      error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) FetchVolumeByID(context.Context, string, bool) ([]byte, error) {
	return s.volumeByID, s.volumeByIDErr
}
func (s *stubProvider) SearchVolumes(context.Context, string, int, string, string, bool) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}
func (s *stubProvider) FetchByISBN(context.Context, string) ([]byte, error) {
	return s.byISBN, s.byISBNErr
}
func (s *stubProvider) FetchBestsellerOverview(context.Context) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func newTestFetcher(t *testing.T, primary, secondary Provider) *Fetcher {
	t.Helper()
	l1, err := NewL1Cache(1<<20, 1000)
	require.NoError(t, err)
	return NewFetcher(DefaultFetcherConfig(), l1, NewStore(nil), nil, nil, NewResolver(NewStore(nil)), primary, secondary, nil)
}

func TestGetBookReturnsFromL1OnSecondCall(t *testing.T) {
	primary := &stubProvider{name: "primary", volumeByID: []byte(`{"id":"v1","volumeInfo":{"title":"Dune"}}`)}
	f := newTestFetcher(t, primary, nil)
	ctx := context.Background()

	uuidLike := "0191a1f4-0000-7000-8000-000000000001"
	b1, err := f.GetBook(ctx, uuidLike)
	require.NoError(t, err)
	assert.Equal(t, "Dune", b1.Title)

	primary.volumeByID = []byte(`{"id":"v1","volumeInfo":{"title":"Changed"}}`)
	b2, err := f.GetBook(ctx, uuidLike)
	require.NoError(t, err)
	assert.Equal(t, "Dune", b2.Title, "second call should be served from L1, not refetched")
}

func TestGetBookReturnsNotFoundWhenNoProviderHasIt(t *testing.T) {
	primary := &stubProvider{name: "primary", volumeByIDErr: ErrNotFound}
	f := newTestFetcher(t, primary, nil)

	_, err := f.GetBook(context.Background(), "0191a1f4-0000-7000-8000-000000000002")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBookReturnsNotFoundWhenExternalFallbackDisabled(t *testing.T) {
	l1, err := NewL1Cache(1<<20, 1000)
	require.NoError(t, err)
	cfg := DefaultFetcherConfig()
	cfg.ExternalFallbackEnabled = false
	f := NewFetcher(cfg, l1, NewStore(nil), nil, nil, NewResolver(NewStore(nil)), &stubProvider{name: "primary", volumeByID: []byte(`{}`)}, nil, nil)

	_, err = f.GetBook(context.Background(), "0191a1f4-0000-7000-8000-000000000003")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBookFetchesByISBNViaBothProviders(t *testing.T) {
	primary := &stubProvider{name: "primary", byISBN: []byte(`{"volumeInfo":{"title":"From Primary"}}`)}
	secondary := &stubProvider{name: "secondary", byISBN: []byte(`{"title": "From Secondary"}`)}
	f := newTestFetcher(t, primary, secondary)

	b, err := f.GetBook(context.Background(), "9780441013593")
	require.NoError(t, err)
	assert.Equal(t, "From Primary", b.Title)
}
