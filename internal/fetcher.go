package internal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetcherConfig carries the feature flags and TTLs the tiered fetcher
// needs but that don't belong to any one tier.
type FetcherConfig struct {
	ExternalFallbackEnabled bool
	L1TTL                   time.Duration
	L1TTLJitter             float64
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		ExternalFallbackEnabled: true,
		L1TTL:                   24 * time.Hour,
		L1TTLJitter:             0.1,
	}
}

// Fetcher is the tiered fetcher (C8): the orchestrator that walks
// L1 -> relational -> object cache -> external providers for a single
// identifier, writing back through every tier it populates on the way
// out. Per-identifier calls are coalesced with singleflight so a
// thundering herd of concurrent requests for the same book triggers
// exactly one external fetch, matching the coalescing contract the
// upstream's own Controller uses for its getBook/getWork/getAuthor
// paths.
type Fetcher struct {
	cfg      FetcherConfig
	l1       cache[[]byte]
	store    *Store
	object   *ObjectCache
	breaker  *Breaker
	resolver *Resolver
	primary  Provider
	secondary Provider
	editorial Provider

	group singleflight.Group
}

func NewFetcher(cfg FetcherConfig, l1 cache[[]byte], store *Store, object *ObjectCache, breaker *Breaker, resolver *Resolver, primary, secondary, editorial Provider) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		l1:        l1,
		store:     store,
		object:    object,
		breaker:   breaker,
		resolver:  resolver,
		primary:   primary,
		secondary: secondary,
		editorial: editorial,
	}
}

// GetBook implements §4.8's getBook(identifier) algorithm.
func (f *Fetcher) GetBook(ctx context.Context, identifier string) (CanonicalBook, error) {
	v, err, _ := f.group.Do(identifier, func() (any, error) {
		return f.getBook(ctx, identifier)
	})
	if err != nil {
		return CanonicalBook{}, err
	}
	return v.(CanonicalBook), nil
}

func (f *Fetcher) getBook(ctx context.Context, identifier string) (CanonicalBook, error) {
	kind := Classify(identifier)

	// Step 2: L1.
	if b, ok := f.fetchL1(ctx, identifier); ok {
		return b, nil
	}

	// Step 3: relational, by the progressively looser identifier families.
	if b, ok := f.fetchRelational(ctx, identifier, kind); ok {
		f.warmL1(ctx, b)
		return b, nil
	}

	// Step 4: object cache.
	if b, ok := f.fetchObjectCache(ctx, identifier); ok {
		f.persistWarm(ctx, b)
		f.warmL1(ctx, b)
		return b, nil
	}

	// Step 5: external fetch.
	if !f.cfg.ExternalFallbackEnabled {
		return CanonicalBook{}, ErrNotFound
	}
	payloads := f.fetchExternal(ctx, identifier, kind)
	if len(payloads) == 0 {
		return CanonicalBook{}, ErrNotFound
	}

	// Step 6: aggregate, canonicalise, persist, write back.
	book, err := Aggregate(payloads)
	if err != nil {
		Log(ctx).Warn("aggregation failed", "identifier", identifier, "err", err)
		return CanonicalBook{}, ErrNotFound
	}

	candidate := Candidate{Book: book}
	if kind == KindIDCanonical {
		candidate.ExistingBookID = identifier
	}
	resolved, err := f.resolver.Resolve(ctx, candidate, payloads[0].Source, book.RawJSONResponse)
	if err != nil {
		Log(ctx).Warn("canonicalisation failed", "identifier", identifier, "err", err)
		return CanonicalBook{}, err
	}

	f.writeBack(ctx, resolved)
	f.warmL1(ctx, resolved)
	if identifier != resolved.BookID {
		// Also cache under the identifier the caller actually used (an
		// ISBN, slug or provider id) so a repeat lookup by that same
		// identifier hits L1 instead of re-resolving.
		f.warmL1Alias(ctx, identifier, resolved)
	}
	return resolved, nil
}

func (f *Fetcher) fetchL1(ctx context.Context, identifier string) (CanonicalBook, bool) {
	raw, _, ok := f.l1.GetWithTTL(ctx, BookKey(identifier))
	if !ok {
		return CanonicalBook{}, false
	}
	b, err := decodeBook(raw)
	if err != nil {
		return CanonicalBook{}, false
	}
	return b, true
}

func (f *Fetcher) fetchRelational(ctx context.Context, identifier string, kind IDKind) (CanonicalBook, bool) {
	var (
		b   *CanonicalBook
		err error
	)
	switch kind {
	case KindIDCanonical:
		b, err = f.store.FetchByCanonicalID(ctx, identifier)
	case KindIDISBN13:
		b, err = f.store.FetchByISBN13(ctx, identifier)
	case KindIDISBN10:
		b, err = f.store.FetchByISBN10(ctx, identifier)
	case KindIDSlug:
		b, err = f.store.FetchBySlug(ctx, identifier)
	default:
		b, err = f.store.FetchByExternalID(ctx, PrimaryProviderSource, identifier)
	}
	if err == nil {
		return *b, true
	}
	if !IsNotFound(err) && !errorIsDisabled(err) {
		Log(ctx).Warn("relational lookup failed", "identifier", identifier, "err", err)
	}
	return CanonicalBook{}, false
}

func (f *Fetcher) fetchObjectCache(ctx context.Context, identifier string) (CanonicalBook, bool) {
	if f.object == nil {
		return CanonicalBook{}, false
	}
	res := f.object.Fetch(ctx, identifier)
	if res.NotFound || res.Disabled || res.ServiceError != nil {
		if res.ServiceError != nil {
			Log(ctx).Warn("object cache fetch failed", "identifier", identifier, "err", res.ServiceError)
		}
		return CanonicalBook{}, false
	}
	b, err := decodeBook(res.Payload)
	if err != nil {
		Log(ctx).Warn("object cache payload unparseable", "identifier", identifier, "err", err)
		return CanonicalBook{}, false
	}
	return b, true
}

// fetchExternal runs step 5: every applicable provider fetch in
// parallel, returning whichever payloads came back non-empty.
func (f *Fetcher) fetchExternal(ctx context.Context, identifier string, kind IDKind) []ProviderPayload {
	type job struct {
		source string
		call   func(context.Context) ([]byte, error)
	}

	var jobs []job

	if SafeForVolumeEndpoint(kind) && f.primary != nil {
		jobs = append(jobs,
			job{SourcePrimaryAuthed, func(ctx context.Context) ([]byte, error) { return f.primary.FetchVolumeByID(ctx, identifier, true) }},
			job{SourcePrimaryUnauthed, func(ctx context.Context) ([]byte, error) { return f.primary.FetchVolumeByID(ctx, identifier, false) }},
		)
	}

	if kind == KindIDISBN13 || kind == KindIDISBN10 {
		if f.primary != nil {
			jobs = append(jobs, job{SourcePrimaryISBN, func(ctx context.Context) ([]byte, error) { return f.primary.FetchByISBN(ctx, identifier) }})
		}
		if f.secondary != nil {
			jobs = append(jobs, job{SourceSecondary, func(ctx context.Context) ([]byte, error) { return f.secondary.FetchByISBN(ctx, identifier) }})
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	results := make([]ProviderPayload, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			raw, err := j.call(ctx)
			if err != nil {
				Log(ctx).Debug("provider fetch failed", "source", j.source, "identifier", identifier, "err", err)
				return
			}
			results[i] = ProviderPayload{Source: j.source, RawJSON: raw}
		}(i, j)
	}
	wg.Wait()

	var out []ProviderPayload
	for _, p := range results {
		if len(p.RawJSON) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// writeBack persists a freshly-canonicalised book to the relational
// store (already done by Resolve) and opportunistically to the object
// cache, per §4.4's write-back policy.
func (f *Fetcher) writeBack(ctx context.Context, b CanonicalBook) {
	if f.object == nil {
		return
	}
	encoded, err := encodeBook(b)
	if err != nil {
		return
	}
	if err := f.object.Upload(ctx, b.BookID, encoded); err != nil {
		Log(ctx).Warn("object cache write-back failed", "bookId", b.BookID, "err", err)
	}
}

// persistWarm writes an object-cache hit through to the relational
// store so the next lookup hits step 3 instead of step 4.
func (f *Fetcher) persistWarm(ctx context.Context, b CanonicalBook) {
	if err := f.store.UpsertBook(ctx, b); err != nil && !errorIsDisabled(err) {
		Log(ctx).Warn("relational warm failed", "bookId", b.BookID, "err", err)
	}
}

func (f *Fetcher) warmL1(ctx context.Context, b CanonicalBook) {
	encoded, err := encodeBook(b)
	if err != nil {
		return
	}
	f.l1.Set(ctx, BookKey(b.BookID), encoded, fuzz(f.cfg.L1TTL, f.cfg.L1TTLJitter))
}

// warmL1Alias caches b under an alternate identifier key in addition
// to its canonical BookKey, so lookups that keep using the original
// (non-canonical) identifier still hit L1.
func (f *Fetcher) warmL1Alias(ctx context.Context, identifier string, b CanonicalBook) {
	encoded, err := encodeBook(b)
	if err != nil {
		return
	}
	f.l1.Set(ctx, BookKey(identifier), encoded, fuzz(f.cfg.L1TTL, f.cfg.L1TTLJitter))
}

func errorIsDisabled(err error) bool {
	return ErrorKind(err) == KindDisabled
}
