package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatePrefersAuthenticatedPrimaryOverEverythingElse(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourceSecondary, RawJSON: []byte(`{"title": "Dune (Open Library)"}`)},
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {"title": "Dune"}}`)},
		{Source: SourcePrimaryUnauthed, RawJSON: []byte(`{"volumeInfo": {"title": "Dune (unauthed)"}}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "Dune", out.Title)
}

func TestAggregateEditorialTitleOnlyWinsWhenOthersEmpty(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {}}`)},
		{Source: SourceEditorial, RawJSON: []byte(`{"title": "Bestseller Title"}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "Bestseller Title", out.Title)
}

func TestAggregateEditorialTitleLosesWhenAnotherSourceHasOne(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {"title": "Canonical Title"}}`)},
		{Source: SourceEditorial, RawJSON: []byte(`{"title": "Editorial Title"}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "Canonical Title", out.Title)
}

func TestAggregateDescriptionPicksLongestNonEmpty(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {"description": "short"}}`)},
		{Source: SourceSecondary, RawJSON: []byte(`{}`)},
	}
	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "short", out.Description)

	payloads[1] = ProviderPayload{Source: SourcePrimaryUnauthed, RawJSON: []byte(`{"volumeInfo": {"description": "a much longer description"}}`)}
	out, err = Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "a much longer description", out.Description)
}

func TestAggregateCategoriesUnionPreservesFirstAppearanceOrder(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {"categories": ["Fiction", "Science Fiction"]}}`)},
		{Source: SourceSecondary, RawJSON: []byte(`{"subjects": ["Science Fiction", "Classics"]}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fiction", "Science Fiction", "Classics"}, out.Categories)
}

func TestAggregateAuthorsFiltersNonAuthorContributions(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourceSecondary, RawJSON: []byte(`{
			"contributors": [
				{"name": "Frank Herbert", "role": "author"},
				{"name": "Some Narrator", "role": "narrator"},
				{"name": "Anonymous", "role": ""}
			]
		}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, []string{"Frank Herbert", "Anonymous"}, out.Authors)
}

func TestAggregateISBNsExtractedFromIndustryIdentifiers(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{
			"volumeInfo": {
				"industryIdentifiers": [
					{"type": "ISBN_10", "identifier": "0441013597"},
					{"type": "ISBN_13", "identifier": "9780441013593"}
				]
			}
		}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "0441013597", out.ISBN10)
	assert.Equal(t, "9780441013593", out.ISBN13)
}

func TestAggregateRatingComesFromFirstSourceThatSuppliesOne(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`{"volumeInfo": {}}`)},
		{Source: SourceSecondary, RawJSON: []byte(`{}`)},
	}
	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Zero(t, out.AverageRating)
	assert.Zero(t, out.RatingsCount)

	payloads[0].RawJSON = []byte(`{"volumeInfo": {"averageRating": 4.5, "ratingsCount": 120}}`)
	out, err = Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, 4.5, out.AverageRating)
	assert.Equal(t, 120, out.RatingsCount)
}

func TestAggregateSkipsUnparseablePayloadsWithoutFailingTheWhole(t *testing.T) {
	payloads := []ProviderPayload{
		{Source: SourcePrimaryAuthed, RawJSON: []byte(`not json`)},
		{Source: SourceSecondary, RawJSON: []byte(`{"title": "Still Works"}`)},
	}

	out, err := Aggregate(payloads)
	require.NoError(t, err)
	assert.Equal(t, "Still Works", out.Title)
}

func TestAggregateEmptyPayloadsProducesEmptyBook(t *testing.T) {
	out, err := Aggregate(nil)
	require.NoError(t, err)
	assert.Empty(t, out.Title)
	assert.NotNil(t, out.Qualifiers)
}

func TestPrecedenceRankUnknownSourceSortsLast(t *testing.T) {
	assert.Greater(t, precedenceRank("mystery-source"), precedenceRank(SourceEditorial))
}
