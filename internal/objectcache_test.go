package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldWriteNoExisting(t *testing.T) {
	d := ShouldWrite(ObjectFetchResult{NotFound: true}, []byte(`{"title":"Dune"}`), PreferExisting)
	assert.True(t, d.Write)
}

func TestShouldWriteIdenticalSkips(t *testing.T) {
	existing := []byte(`{"title":"Dune"}`)
	d := ShouldWrite(ObjectFetchResult{Payload: existing}, []byte(`{"title":"Dune"}`), PreferExisting)
	assert.False(t, d.Write)
}

func TestShouldWriteLongerDescriptionWins(t *testing.T) {
	existing := []byte(`{"title":"Dune","description":""}`)
	incoming := []byte(`{"title":"Dune","description":"A sweeping science fiction epic set on the desert planet Arrakis."}`)
	d := ShouldWrite(ObjectFetchResult{Payload: existing}, incoming, PreferExisting)
	assert.True(t, d.Write)
}

func TestShouldWriteMorePopulatedFieldsWins(t *testing.T) {
	existing := []byte(`{"title":"Dune"}`)
	incoming := []byte(`{"title":"Dune","publisher":"Ace","isbn13":"9780441013593","categories":["Fiction"]}`)
	d := ShouldWrite(ObjectFetchResult{Payload: existing}, incoming, PreferExisting)
	assert.True(t, d.Write)
}

func TestShouldWriteInconclusiveRespectsPolicy(t *testing.T) {
	existing := []byte(`{"title":"Dune","publisher":"Ace"}`)
	incoming := []byte(`{"title":"Dune 2","publisher":"Ace"}`)

	keep := ShouldWrite(ObjectFetchResult{Payload: existing}, incoming, PreferExisting)
	assert.False(t, keep.Write)

	overwrite := ShouldWrite(ObjectFetchResult{Payload: existing}, incoming, PreferIncoming)
	assert.True(t, overwrite.Write)
}

func TestMaybeGunzipPassesThroughPlainJSON(t *testing.T) {
	raw := []byte(`{"title":"Dune"}`)
	out, err := maybeGunzip(raw)
	assert.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestGzipRoundTrip(t *testing.T) {
	raw := []byte(`{"title":"Dune"}`)
	compressed, err := Gzip(raw)
	assert.NoError(t, err)
	out, err := maybeGunzip(compressed)
	assert.NoError(t, err)
	assert.Equal(t, raw, out)
}
