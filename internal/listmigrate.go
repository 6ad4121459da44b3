package internal

import (
	"context"
	"time"
)

// ListMigrationConfig tunes the migrate-lists CLI command's keyspace
// walk, mirroring ConsolidationConfig's shape for migrate-books.
type ListMigrationConfig struct {
	Provider      string
	Prefix        string
	Max           int
	Skip          int
	DryRun        bool
	ThrottleEvery int
	ThrottleFor   time.Duration
}

func DefaultListMigrationConfig() ListMigrationConfig {
	return ListMigrationConfig{
		Prefix:        "lists/",
		ThrottleEvery: 50,
		ThrottleFor:   500 * time.Millisecond,
	}
}

// ListMigrationSummary is migrate-lists' final report.
type ListMigrationSummary struct {
	ListsProcessed int
	ItemsResolved  int
	Errors         []string
}

// ListMigrator is the migrate-lists CLI command's engine: it walks the
// legacy object-cache keyspace under a lists/ prefix, where each blob
// is a raw provider list-overview payload (the same shape C12's
// refreshBestsellers fetches live), and replays it through the same
// split/aggregate/resolve pipeline to backfill book_lists and
// book_lists_join for lists that predate the relational tier.
type ListMigrator struct {
	object   objectStore
	store    *Store
	resolver *Resolver
	cfg      ListMigrationConfig
}

func NewListMigrator(object objectStore, store *Store, resolver *Resolver, cfg ListMigrationConfig) *ListMigrator {
	if cfg.Prefix == "" {
		cfg.Prefix = "lists/"
	}
	if cfg.ThrottleEvery <= 0 {
		cfg.ThrottleEvery = 50
	}
	return &ListMigrator{object: object, store: store, resolver: resolver, cfg: cfg}
}

// Run scans the configured prefix, skipping cfg.Skip keys and stopping
// after cfg.Max (0 = unlimited), replaying each list payload found.
func (m *ListMigrator) Run(ctx context.Context) (ListMigrationSummary, error) {
	var summary ListMigrationSummary

	keys, err := m.object.List(ctx, m.cfg.Prefix)
	if err != nil {
		return summary, err
	}
	if m.cfg.Skip > 0 && m.cfg.Skip < len(keys) {
		keys = keys[m.cfg.Skip:]
	} else if m.cfg.Skip >= len(keys) {
		keys = nil
	}
	if m.cfg.Max > 0 && m.cfg.Max < len(keys) {
		keys = keys[:m.cfg.Max]
	}

	for i, key := range keys {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if i > 0 && m.cfg.ThrottleEvery > 0 && i%m.cfg.ThrottleEvery == 0 {
			time.Sleep(m.cfg.ThrottleFor)
		}

		res := m.object.Fetch(ctx, key)
		if res.NotFound || res.Disabled {
			continue
		}
		if res.ServiceError != nil {
			summary.Errors = append(summary.Errors, "fetch "+key+": "+res.ServiceError.Error())
			continue
		}

		if err := m.replayList(ctx, key, res.Payload, &summary); err != nil {
			summary.Errors = append(summary.Errors, "replay "+key+": "+err.Error())
			continue
		}
		summary.ListsProcessed++
	}

	return summary, nil
}

func (m *ListMigrator) replayList(ctx context.Context, key string, raw []byte, summary *ListMigrationSummary) error {
	items, err := splitSearchResults(SourceSecondary, raw)
	if err != nil {
		return err
	}

	if m.cfg.DryRun {
		summary.ItemsResolved += len(items)
		return nil
	}

	listID, err := m.store.UpsertBookList(ctx, BookList{
		Provider:      m.cfg.Provider,
		CreatedAt:     time.Now(),
		PublishedDate: key,
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
		resolved, err := m.resolver.Resolve(ctx, Candidate{Book: book}, SourceSecondary, item)
		if err != nil {
			summary.Errors = append(summary.Errors, "resolve item in "+key+": "+err.Error())
			continue
		}
		if err := m.store.UpsertBookListMembership(ctx, BookListMembership{
			ListID: listID,
			BookID: resolved.BookID,
			Rank:   rank + 1,
		}); err != nil && !errorIsDisabled(err) {
			summary.Errors = append(summary.Errors, "membership "+resolved.BookID+" in "+key+": "+err.Error())
			continue
		}
		summary.ItemsResolved++
	}

	return nil
}
