package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearchProvider struct {
	stubProvider
	searchResp []byte
	searchErr  error
}

func (s *stubSearchProvider) SearchVolumes(context.Context, string, int, string, string, bool) ([]byte, error) {
	return s.searchResp, s.searchErr
}

func newTestSearchEngine(t *testing.T, primary, secondary Provider) (*SearchEngine, *EventBus) {
	t.Helper()
	store := NewStore(nil)
	bus := NewEventBus()
	resolver := NewResolver(store)
	engine := NewSearchEngine(DefaultSearchConfig(), store, bus, nil, resolver, primary, secondary)
	return engine, bus
}

func drainUntil(t *testing.T, events <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %q", want)
		}
	}
}

func TestQueryHashIsStableAndDistinguishesFilters(t *testing.T) {
	a := QueryHash("dune", "en", "rank")
	b := QueryHash("dune", "en", "rank")
	c := QueryHash("dune", "fr", "rank")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSearchBooksBypassExternalIsPureRelational(t *testing.T) {
	engine, _ := newTestSearchEngine(t, nil, nil)
	res, err := engine.SearchBooks(context.Background(), "dune", "en", 10, "rank", true)
	require.NoError(t, err)
	assert.Empty(t, res.QueryHash, "bypassExternal path never assigns a queryHash")
	assert.Empty(t, res.Books)
}

func TestSearchBooksEmitsStartingAndLaunchesBackgroundJob(t *testing.T) {
	primary := &stubSearchProvider{
		stubProvider: stubProvider{name: "primary"},
		searchResp:   []byte(`{"items":[{"id":"v1","volumeInfo":{"title":"Dune"}}]}`),
	}
	engine, bus := newTestSearchEngine(t, primary, nil)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	res, err := engine.SearchBooks(context.Background(), "dune", "en", 10, "rank", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.QueryHash)
	assert.True(t, res.HasMore)

	drainUntil(t, events, EventSearchStarting, time.Second)
	drainUntil(t, events, EventSearchingPrimary, time.Second)
	update := drainUntil(t, events, EventSearchResultsUpdated, time.Second)
	delta, ok := update.Payload.(SearchResultsDelta)
	require.True(t, ok)
	require.Len(t, delta.DeltaBooks, 1)
	assert.Equal(t, "Dune", delta.DeltaBooks[0].Title)

	drainUntil(t, events, EventSearchComplete, time.Second)
}

func TestSearchBooksDoesNotLaunchASecondJobForTheSameQueryHash(t *testing.T) {
	primary := &stubSearchProvider{
		stubProvider: stubProvider{name: "primary"},
		searchResp:   []byte(`{"items":[{"id":"v1","volumeInfo":{"title":"Dune"}}]}`),
	}
	engine, _ := newTestSearchEngine(t, primary, nil)

	hash1, err := engine.SearchBooks(context.Background(), "dune", "en", 10, "rank", false)
	require.NoError(t, err)

	engine.mu.Lock()
	_, active := engine.jobs[hash1.QueryHash]
	engine.mu.Unlock()
	require.True(t, active, "first call should register a background job")

	hash2, err := engine.SearchBooks(context.Background(), "dune", "en", 10, "rank", false)
	require.NoError(t, err)
	assert.Equal(t, hash1.QueryHash, hash2.QueryHash)

	engine.mu.Lock()
	jobCount := len(engine.jobs)
	engine.mu.Unlock()
	assert.LessOrEqual(t, jobCount, 1, "second call must join the existing job, not start another")
}

// fakeDeterministicResolver mints a stable canonical id per ISBN13 so
// dedup-by-canonicalId can be exercised without a live relational
// store (the real *Resolver mints a fresh random uuid per candidate
// when its store is disabled).
type fakeDeterministicResolver struct{}

func (fakeDeterministicResolver) Resolve(_ context.Context, c Candidate, _ string, _ []byte) (CanonicalBook, error) {
	b := c.Book
	b.BookID = "book-" + b.ISBN13
	return b, nil
}

func (fakeDeterministicResolver) SyncEditionGroup(context.Context, []CanonicalBook) error { return nil }

func TestSearchProviderDeduplicatesByCanonicalID(t *testing.T) {
	primary := &stubSearchProvider{
		stubProvider: stubProvider{name: "primary"},
		searchResp:   []byte(`{"items":[{"id":"v1","volumeInfo":{"title":"Dune","industryIdentifiers":[{"type":"ISBN_13","identifier":"9780441013593"}]}}]}`),
	}
	store := NewStore(nil)
	bus := NewEventBus()
	engine := NewSearchEngine(DefaultSearchConfig(), store, bus, nil, fakeDeterministicResolver{}, primary, nil)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	seen := newSet[string]()
	cumulative := 0
	engine.searchProvider(context.Background(), "q1", "dune", "en", "rank", 10, &cumulative, seen,
		SourcePrimaryAuthed, primary,
		func(c context.Context, q, l string) ([]byte, error) { return primary.searchResp, nil },
		EventSearchingPrimary,
	)
	assert.Equal(t, 1, cumulative)

	// Same response again: the book resolves to the same canonical id,
	// which is already in seen, so no second delta is published.
	engine.searchProvider(context.Background(), "q1", "dune", "en", "rank", 10, &cumulative, seen,
		SourcePrimaryAuthed, primary,
		func(c context.Context, q, l string) ([]byte, error) { return primary.searchResp, nil },
		EventSearchingPrimary,
	)
	assert.Equal(t, 1, cumulative, "duplicate canonical id must not be counted twice")

	drainUntil(t, events, EventSearchResultsUpdated, time.Second)
}

func TestSearchProviderEmitsRateLimitedWhenBreakerDenies(t *testing.T) {
	primary := &stubSearchProvider{stubProvider: stubProvider{name: "primary"}}
	breaker := NewBreaker(BreakerConfig{Threshold: 1, Window: time.Minute, CoolDown: time.Minute, MaxCoolDown: time.Minute}, nil)
	// One failure trips the breaker open with a minute-long cool-down,
	// so Allow() is guaranteed to deny the very next call.
	breaker.Report("primary", false)

	store := NewStore(nil)
	bus := NewEventBus()
	resolver := NewResolver(store)
	engine := NewSearchEngine(DefaultSearchConfig(), store, bus, breaker, resolver, primary, nil)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	cumulative := 0
	engine.searchProvider(context.Background(), "q1", "dune", "en", "rank", 10, &cumulative, newSet[string](),
		SourcePrimaryAuthed, primary,
		func(c context.Context, q, l string) ([]byte, error) { return nil, nil },
		EventSearchingPrimary,
	)

	drainUntil(t, events, EventSearchRateLimited, time.Second)
	assert.Equal(t, 0, cumulative)
}

func TestSplitSearchResultsHandlesPrimaryAndSecondaryShapes(t *testing.T) {
	primaryItems, err := splitSearchResults(SourcePrimaryAuthed, []byte(`{"items":[{"id":"v1"},{"id":"v2"}]}`))
	require.NoError(t, err)
	assert.Len(t, primaryItems, 2)

	secondaryItems, err := splitSearchResults(SourceSecondary, []byte(`{"docs":[{"title":"Dune"}]}`))
	require.NoError(t, err)
	assert.Len(t, secondaryItems, 1)
}

func TestRunBackgroundJobRespectsCancellation(t *testing.T) {
	primary := &stubSearchProvider{
		stubProvider: stubProvider{name: "primary"},
		searchResp:   []byte(`{"items":[{"id":"v1","volumeInfo":{"title":"Dune"}}]}`),
	}
	engine, bus := newTestSearchEngine(t, primary, nil)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine.runBackgroundJob(ctx, "q1", "dune", "en", 10, "rank", nil)

	e := drainUntil(t, events, EventSearchError, time.Second)
	assert.Equal(t, "cancelled", e.Payload)
}
