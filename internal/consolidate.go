package internal

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ConsolidationConfig tunes the migration engine's keyspace walk.
type ConsolidationConfig struct {
	Prefix          string
	DryRun          bool
	ThrottleEvery   int
	ThrottleFor     time.Duration
}

func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		Prefix:        "books/",
		ThrottleEvery: 200,
		ThrottleFor:   500 * time.Millisecond,
	}
}

// ConsolidationSummary is consolidate's final report.
type ConsolidationSummary struct {
	ConceptualBooksProcessed int
	Migrated                 int
	Merged                   int
	OldKeysDeleted           int
	NewUUIDsGenerated        int
	Errors                   []string
}

// objectStore is the slice of *ObjectCache's behaviour Consolidator
// depends on, narrowed to an interface for the same reason search.go
// narrows the resolver: it lets tests exercise the merge/grouping
// logic against a fake keyspace without a live S3 bucket.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Fetch(ctx context.Context, bookID string) ObjectFetchResult
	Upload(ctx context.Context, bookID string, newJSON []byte) error
	Delete(ctx context.Context, key string) error
}

// legacyRecord is a parsed-out-of-an-object-cache-blob candidate,
// tagged with the key it came from and the identifiers it carries so
// it can be grouped by definitiveId before resolution.
type legacyRecord struct {
	Key    string
	Book   CanonicalBook
	Source string
}

// Consolidator is the consolidation/migration engine (C10): it walks
// the object cache's legacy keyspace, groups blobs that describe the
// same conceptual book, merges them into a single canonical record,
// resolves/persists it through the same Resolver every other ingest
// path uses, and retires the superseded keys.
type Consolidator struct {
	object   objectStore
	store    *Store
	resolver *Resolver
	tracker  inflightTracker
	cfg      ConsolidationConfig
	metrics  *operationsMetrics
}

func NewConsolidator(object objectStore, store *Store, resolver *Resolver, tracker inflightTracker, cfg ConsolidationConfig) *Consolidator {
	if tracker == nil {
		tracker = &noInflightTracker{}
	}
	if cfg.ThrottleEvery <= 0 {
		cfg.ThrottleEvery = 200
	}
	return &Consolidator{object: object, store: store, resolver: resolver, tracker: tracker, cfg: cfg}
}

// WithMetrics attaches an operationsMetrics instance so merge pressure
// is observable; safe to leave unset in tests.
func (c *Consolidator) WithMetrics(m *operationsMetrics) *Consolidator {
	c.metrics = m
	return c
}

// Run scans the configured prefix, groups by definitiveId, merges each
// group, and resolves/persists the result. Errors merging one group
// are recorded in the summary and do not abort the run.
func (c *Consolidator) Run(ctx context.Context) (ConsolidationSummary, error) {
	var summary ConsolidationSummary

	keys, err := c.object.List(ctx, c.cfg.Prefix)
	if err != nil {
		return summary, err
	}

	groups := map[string][]legacyRecord{}
	var order []string

	for i, key := range keys {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if i > 0 && c.cfg.ThrottleEvery > 0 && i%c.cfg.ThrottleEvery == 0 {
			time.Sleep(c.cfg.ThrottleFor)
		}

		res := c.object.Fetch(ctx, key)
		if res.NotFound || res.Disabled {
			continue
		}
		if res.ServiceError != nil {
			summary.Errors = append(summary.Errors, "fetch "+key+": "+res.ServiceError.Error())
			continue
		}

		book, err := decodeBook(res.Payload)
		if err != nil {
			summary.Errors = append(summary.Errors, "parse "+key+": "+err.Error())
			continue
		}

		id := definitiveID(book)
		if id == "" {
			summary.Errors = append(summary.Errors, "no usable identifier for "+key)
			continue
		}

		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], legacyRecord{Key: key, Book: book, Source: "legacy"})
	}

	for _, id := range order {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.ConceptualBooksProcessed++

		records := groups[id]
		merged := mergeRecords(records)

		if c.cfg.DryRun {
			summary.Migrated++
			if len(records) > 1 {
				summary.Merged++
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.consolidationsWaitingAdd(1)
		}

		c.mergeGroup(ctx, id, merged, records, &summary)

		if c.metrics != nil {
			c.metrics.consolidationsWaitingAdd(-1)
		}
	}

	return summary, nil
}

// mergeGroup resolves/persists a single definitiveId group and retires
// its superseded keys, appending any failures to summary rather than
// aborting the run.
func (c *Consolidator) mergeGroup(ctx context.Context, id string, merged CanonicalBook, records []legacyRecord, summary *ConsolidationSummary) {
	if err := c.tracker.MarkInFlight(ctx, id); err != nil {
		summary.Errors = append(summary.Errors, "mark in-flight "+id+": "+err.Error())
	}

	existingID := ""
	if Classify(id) == KindIDCanonical {
		existingID = id
	}

	resolved, minted, err := c.resolver.ResolveMinted(ctx, Candidate{Book: merged, ExistingBookID: existingID}, "consolidation", nil)
	if err != nil {
		summary.Errors = append(summary.Errors, "resolve "+id+": "+err.Error())
		return
	}
	if minted {
		summary.NewUUIDsGenerated++
	}

	if canonicalJSON, err := encodeBook(resolved); err != nil {
		summary.Errors = append(summary.Errors, "encode "+resolved.BookID+": "+err.Error())
	} else if err := c.object.Upload(ctx, resolved.BookID, canonicalJSON); err != nil {
		summary.Errors = append(summary.Errors, "upload "+resolved.BookID+": "+err.Error())
	}

	for _, rec := range records {
		if rec.Book.BookID != "" && rec.Book.BookID != resolved.BookID {
			if err := c.store.ReassignExternalMapping(ctx, rec.Book.BookID, resolved.BookID); err != nil && !errors.Is(err, ErrDisabled) {
				summary.Errors = append(summary.Errors, "reassign "+rec.Book.BookID+": "+err.Error())
			}
		}
		if rec.Key != objectKey(resolved.BookID) {
			if err := c.object.Delete(ctx, rec.Key); err != nil {
				summary.Errors = append(summary.Errors, "delete "+rec.Key+": "+err.Error())
				continue
			}
			summary.OldKeysDeleted++
		}
	}

	summary.Migrated++
	if len(records) > 1 {
		summary.Merged++
	}

	if err := c.tracker.MarkDone(ctx, id); err != nil {
		summary.Errors = append(summary.Errors, "mark done "+id+": "+err.Error())
	}
}

// definitiveID picks the first non-empty of ISBN-13, ISBN-10, or the
// record's own canonical id -- in that order of stability. Provider
// volume ids are not considered: neither the decoded record nor its
// legacy key is searched for one.
func definitiveID(b CanonicalBook) string {
	switch {
	case b.ISBN13 != "":
		return b.ISBN13
	case b.ISBN10 != "":
		return b.ISBN10
	case b.BookID != "":
		return b.BookID
	default:
		return ""
	}
}

// mergeRecords folds a definitiveId group into one CanonicalBook:
// records whose key starts with "books/" are ordered ahead of the
// others (so their title is preferred over a legacy free-form one),
// scalar fields are first-non-empty-wins in that order except the
// description, where the longest one wins, list fields are unioned
// preserving first-seen order, and qualifier maps are unioned with the
// later record in iteration order winning on key collision.
func mergeRecords(records []legacyRecord) CanonicalBook {
	if len(records) == 0 {
		return CanonicalBook{}
	}

	sorted := append([]legacyRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return isCanonicalKey(sorted[i].Key) && !isCanonicalKey(sorted[j].Key)
	})

	out := sorted[0].Book
	seenCategories := newSet[string](out.Categories...)
	seenAuthors := newSet[string](out.Authors...)
	qualifiers := map[string]any{}
	for k, v := range out.Qualifiers {
		qualifiers[k] = v
	}

	for _, rec := range sorted[1:] {
		b := rec.Book
		if out.Title == "" {
			out.Title = b.Title
		}
		if out.Subtitle == "" {
			out.Subtitle = b.Subtitle
		}
		if out.Description == "" || len(b.Description) > len(out.Description) {
			out.Description = b.Description
		}
		if out.ISBN10 == "" {
			out.ISBN10 = b.ISBN10
		}
		if out.ISBN13 == "" {
			out.ISBN13 = b.ISBN13
		}
		if out.Publisher == "" {
			out.Publisher = b.Publisher
		}
		if out.PublishedDate == "" {
			out.PublishedDate = b.PublishedDate
		}
		if out.Language == "" {
			out.Language = b.Language
		}
		if out.PageCount == 0 {
			out.PageCount = b.PageCount
		}
		if out.CoverImageURL == "" {
			out.CoverImageURL = b.CoverImageURL
		}
		if out.AverageRating == 0 {
			out.AverageRating = b.AverageRating
		}
		if out.RatingsCount == 0 {
			out.RatingsCount = b.RatingsCount
		}

		for _, cat := range b.Categories {
			if _, ok := seenCategories[cat]; !ok {
				seenCategories[cat] = struct{}{}
				out.Categories = append(out.Categories, cat)
			}
		}
		for _, a := range b.Authors {
			if _, ok := seenAuthors[a]; !ok {
				seenAuthors[a] = struct{}{}
				out.Authors = append(out.Authors, a)
			}
		}
		for k, v := range b.Qualifiers {
			qualifiers[k] = v
		}
	}

	if len(qualifiers) > 0 {
		out.Qualifiers = qualifiers
	}
	return out
}

// isCanonicalKey reports whether key starts with the "books/" prefix
// that objectKey's "books/v{N}/{id}.json" layout uses, as opposed to a
// legacy free-form key; the rest of the key is not checked. Used only
// to break ties when merging, never to decide what gets deleted.
func isCanonicalKey(key string) bool {
	return len(key) > 6 && key[:6] == "books/"
}
