package internal

import (
	"context"
	"sync"
	"time"
)

// SchedulerConfig tunes the three maintenance loops the scheduler runs
// for the lifetime of the process.
type SchedulerConfig struct {
	L1EvictionInterval      time.Duration
	SearchViewMinInterval   time.Duration
	BestsellerRefreshInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		L1EvictionInterval:        time.Minute,
		SearchViewMinInterval:     60 * time.Second,
		BestsellerRefreshInterval: 6 * time.Hour,
	}
}

// l1Evictor is the subset of l1's behaviour the scheduler depends on,
// satisfied by *l1 (see l1cache.go). Kept as an interface so a test can
// substitute a counting fake.
type l1Evictor interface {
	SweepExpired(ctx context.Context) int
}

// bestsellerRefresher fetches the current bestseller overview from
// whichever provider the deployment designates, so the scheduler
// itself stays provider-agnostic.
type bestsellerRefresher interface {
	FetchBestsellerOverview(ctx context.Context) ([]byte, error)
}

// Scheduler runs the three background maintenance loops (C12): L1
// eviction sweep, debounced materialised-view refresh, and bestseller
// snapshot refresh. Each loop is independent and torn down by
// cancelling the context passed to Run.
type Scheduler struct {
	cfg      SchedulerConfig
	l1       l1Evictor
	store    *Store
	provider bestsellerRefresher
	resolver *Resolver

	mu           sync.Mutex
	lastViewRefresh time.Time
}

func NewScheduler(cfg SchedulerConfig, l1 l1Evictor, store *Store, provider bestsellerRefresher, resolver *Resolver) *Scheduler {
	return &Scheduler{cfg: cfg, l1: l1, store: store, provider: provider, resolver: resolver}
}

// Run blocks, driving all three loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.runL1Eviction(ctx) }()
	go func() { defer wg.Done(); s.runSearchViewRefresh(ctx) }()
	go func() { defer wg.Done(); s.runBestsellerRefresh(ctx) }()
	wg.Wait()
}

func (s *Scheduler) runL1Eviction(ctx context.Context) {
	if s.l1 == nil || s.cfg.L1EvictionInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.L1EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.l1.SweepExpired(ctx)
			if n > 0 {
				Log(ctx).Debug("l1 eviction sweep", "evicted", n)
			}
		}
	}
}

// RefreshSearchView triggers the materialised-view refresh, debounced
// to at most once per SearchViewMinInterval unless force is set. The
// scheduler's own ticker calls this with force=false; callers that
// just finished a write-heavy batch (e.g. consolidation) can call it
// with force=true to get the refresh sooner.
func (s *Scheduler) RefreshSearchView(ctx context.Context, force bool) error {
	s.mu.Lock()
	since := time.Since(s.lastViewRefresh)
	if !force && since < s.cfg.SearchViewMinInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastViewRefresh = time.Now()
	s.mu.Unlock()

	if err := s.store.RefreshSearchView(ctx); err != nil && !errorIsDisabled(err) {
		return err
	}
	return nil
}

func (s *Scheduler) runSearchViewRefresh(ctx context.Context) {
	if s.cfg.SearchViewMinInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SearchViewMinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshSearchView(ctx, false); err != nil {
				Log(ctx).Warn("search view refresh failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) runBestsellerRefresh(ctx context.Context) {
	if s.provider == nil || s.cfg.BestsellerRefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.BestsellerRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refreshBestsellers(ctx); err != nil {
				Log(ctx).Warn("bestseller refresh failed", "err", err)
			}
		}
	}
}

// refreshBestsellers fetches the provider's current bestseller
// overview, aggregates+resolves each listed book, and upserts the list
// and its memberships -- run on every BestsellerRefreshInterval tick;
// the first run comes one interval after the loop starts, not at
// start-up.
func (s *Scheduler) refreshBestsellers(ctx context.Context) error {
	raw, err := s.provider.FetchBestsellerOverview(ctx)
	if err != nil {
		return err
	}

	items, err := splitSearchResults(SourceSecondary, raw)
	if err != nil {
		return err
	}

	listID, err := s.store.UpsertBookList(ctx, BookList{
		Provider:      "primary",
		CreatedAt:     time.Now(),
		PublishedDate: time.Now().Format("2006-01-02"),
	})
	if err != nil && !errorIsDisabled(err) {
		return err
	}

	for rank, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		book, err := Aggregate([]ProviderPayload{{Source: SourceSecondary, RawJSON: item}})
		if err != nil || book.Title == "" {
			continue
		}
		resolved, err := s.resolver.Resolve(ctx, Candidate{Book: book}, SourceSecondary, item)
		if err != nil {
			Log(ctx).Warn("bestseller item resolution failed", "err", err)
			continue
		}
		if err := s.store.UpsertBookListMembership(ctx, BookListMembership{
			ListID: listID,
			BookID: resolved.BookID,
			Rank:   rank + 1,
		}); err != nil && !errorIsDisabled(err) {
			Log(ctx).Warn("bestseller membership upsert failed", "bookId", resolved.BookID, "err", err)
		}
	}
	return nil
}
