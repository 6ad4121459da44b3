package internal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvictor struct {
	calls atomic.Int64
	n     int
}

func (f *fakeEvictor) SweepExpired(context.Context) int {
	f.calls.Add(1)
	return f.n
}

type fakeBestsellerProvider struct {
	resp []byte
	err  error
}

func (f *fakeBestsellerProvider) FetchBestsellerOverview(context.Context) ([]byte, error) {
	return f.resp, f.err
}

func TestSchedulerL1EvictionLoopFiresOnTicker(t *testing.T) {
	store := NewStore(nil)
	evictor := &fakeEvictor{n: 3}
	cfg := SchedulerConfig{L1EvictionInterval: 10 * time.Millisecond}
	s := NewScheduler(cfg, evictor, store, nil, NewResolver(store))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.runL1Eviction(ctx)

	assert.GreaterOrEqual(t, evictor.calls.Load(), int64(2))
}

func TestRefreshSearchViewDebouncesWithinMinInterval(t *testing.T) {
	store := NewStore(nil)
	cfg := SchedulerConfig{SearchViewMinInterval: time.Hour}
	s := NewScheduler(cfg, nil, store, nil, NewResolver(store))

	err := s.RefreshSearchView(context.Background(), false)
	require.NoError(t, err)
	first := s.lastViewRefresh

	err = s.RefreshSearchView(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, first, s.lastViewRefresh, "second call within the debounce window must be a no-op")
}

func TestRefreshSearchViewForceBypassesDebounce(t *testing.T) {
	store := NewStore(nil)
	cfg := SchedulerConfig{SearchViewMinInterval: time.Hour}
	s := NewScheduler(cfg, nil, store, nil, NewResolver(store))

	require.NoError(t, s.RefreshSearchView(context.Background(), false))
	first := s.lastViewRefresh

	time.Sleep(time.Millisecond)
	require.NoError(t, s.RefreshSearchView(context.Background(), true))
	assert.True(t, s.lastViewRefresh.After(first), "force=true must bypass the debounce window")
}

func TestRefreshBestsellersSucceedsWhenStoreDisabled(t *testing.T) {
	store := NewStore(nil)
	provider := &fakeBestsellerProvider{
		resp: []byte(`{"docs":[{"title":"Dune"},{"title":"Foundation"}]}`),
	}
	s := NewScheduler(DefaultSchedulerConfig(), nil, store, provider, NewResolver(store))

	err := s.refreshBestsellers(context.Background())
	require.NoError(t, err)
}

func TestRefreshBestsellersPropagatesProviderError(t *testing.T) {
	store := NewStore(nil)
	provider := &fakeBestsellerProvider{err: ErrNotFound}
	s := NewScheduler(DefaultSchedulerConfig(), nil, store, provider, NewResolver(store))

	err := s.refreshBestsellers(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchedulerRunReturnsWhenContextCancelled(t *testing.T) {
	store := NewStore(nil)
	s := NewScheduler(SchedulerConfig{
		L1EvictionInterval:        time.Millisecond,
		SearchViewMinInterval:     time.Millisecond,
		BestsellerRefreshInterval: time.Millisecond,
	}, &fakeEvictor{}, store, &fakeBestsellerProvider{resp: []byte(`{"docs":[]}`)}, NewResolver(store))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
