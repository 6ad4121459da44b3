package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// SearchConfig carries the tunables the rate-limited search engine
// needs beyond what the fetcher/breaker/resolver already own.
type SearchConfig struct {
	DefaultLimit int
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{DefaultLimit: 20}
}

// SearchResult is searchBooks's synchronous return value: whatever
// rows are already cached, plus the queryHash a caller subscribes to
// the EventBus with for the background enrichment stream.
type SearchResult struct {
	QueryHash string
	Books     []CanonicalBook
	HasMore   bool
}

// QueryHash derives the stable per-(query,filters) key a background
// search job and its event stream are addressed by.
func QueryHash(query, lang, orderBy string) string {
	sum := sha256.Sum256([]byte(query + "\x00" + lang + "\x00" + orderBy))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalResolver is the slice of *Resolver's behaviour the search
// engine depends on, narrowed to an interface so tests can substitute
// a resolver whose minted ids are deterministic (the real *Resolver
// mints a fresh random UUID for every candidate when the relational
// tier is disabled, which makes canonical-id dedup unobservable
// without a live database).
type canonicalResolver interface {
	Resolve(ctx context.Context, c Candidate, source string, raw []byte) (CanonicalBook, error)
	SyncEditionGroup(ctx context.Context, cluster []CanonicalBook) error
}

// SearchEngine is the rate-limited search engine (C9): it answers
// searchBooks with whatever the relational tier already has, then
// launches at most one background job per queryHash that alternates
// providers under the breaker, dedupes by canonical id, and publishes
// incremental SearchResultsUpdated events as new books are found.
type SearchEngine struct {
	cfg       SearchConfig
	store     *Store
	bus       *EventBus
	breaker   *Breaker
	resolver  canonicalResolver
	primary   Provider
	secondary Provider

	authCounter atomic.Int64

	mu   sync.Mutex
	jobs map[string]context.CancelFunc

	metrics *operationsMetrics
}

func NewSearchEngine(cfg SearchConfig, store *Store, bus *EventBus, breaker *Breaker, resolver canonicalResolver, primary, secondary Provider) *SearchEngine {
	return &SearchEngine{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		breaker:   breaker,
		resolver:  resolver,
		primary:   primary,
		secondary: secondary,
		jobs:      map[string]context.CancelFunc{},
	}
}

// WithMetrics attaches an operationsMetrics instance so background job
// pressure is observable; safe to leave unset in tests.
func (e *SearchEngine) WithMetrics(m *operationsMetrics) *SearchEngine {
	e.metrics = m
	return e
}

// SearchBooks implements §4.9's searchBooks(query, lang, limit,
// orderBy, bypassExternal). With bypassExternal it is pure relational;
// otherwise it returns the cached rows immediately and (if no
// background job for this queryHash is already running) launches one.
func (e *SearchEngine) SearchBooks(ctx context.Context, query, lang string, limit int, orderBy string, bypassExternal bool) (SearchResult, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	if bypassExternal {
		books, err := e.store.SearchBooks(ctx, query, lang, limit, orderBy)
		if err != nil && !errorIsDisabled(err) {
			return SearchResult{}, err
		}
		return SearchResult{Books: books}, nil
	}

	hash := QueryHash(query, lang, orderBy)
	e.bus.Publish(Event{Type: EventSearchStarting, QueryHash: hash})

	cached, err := e.store.SearchBooks(ctx, query, lang, limit, orderBy)
	if err != nil && !errorIsDisabled(err) {
		Log(ctx).Warn("cached search query failed", "queryHash", hash, "err", err)
	}

	e.ensureBackgroundJob(hash, query, lang, limit, orderBy, cached)

	return SearchResult{QueryHash: hash, Books: cached, HasMore: true}, nil
}

// ensureBackgroundJob registers and launches a background job for
// hash unless one is already running; concurrent callers for the same
// queryHash join its event stream without re-triggering a fetch.
func (e *SearchEngine) ensureBackgroundJob(hash, query, lang string, limit int, orderBy string, cached []CanonicalBook) {
	e.mu.Lock()
	if _, active := e.jobs[hash]; active {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.jobs[hash] = cancel
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.searchJobsWaitingAdd(1)
	}

	go e.runBackgroundJob(ctx, hash, query, lang, limit, orderBy, cached)
}

// Cancel stops the background job for queryHash, if one is running.
// Joining subscribers see an ERROR event and the job unregisters
// itself.
func (e *SearchEngine) Cancel(queryHash string) {
	e.mu.Lock()
	cancel, ok := e.jobs[queryHash]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *SearchEngine) unregister(hash string) {
	e.mu.Lock()
	delete(e.jobs, hash)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.searchJobsWaitingAdd(-1)
	}
}

// runBackgroundJob implements §4.9 step 5: alternate primary
// authentication mode via a monotonic counter, search primary then
// (if still short of limit) secondary, deduplicating by canonical id
// and persisting+announcing every new book as it's found.
func (e *SearchEngine) runBackgroundJob(ctx context.Context, hash, query, lang string, limit int, orderBy string, cached []CanonicalBook) {
	defer e.unregister(hash)

	seen := newSet[string]()
	for _, b := range cached {
		seen[b.BookID] = struct{}{}
	}
	cumulative := len(cached)

	round := e.authCounter.Add(1)
	authenticated := round%2 == 0

	if ctx.Err() != nil {
		e.bus.Publish(Event{Type: EventSearchError, QueryHash: hash, Payload: "cancelled"})
		return
	}

	if cumulative < limit && e.primary != nil {
		e.searchProvider(ctx, hash, query, lang, orderBy, limit, &cumulative, seen,
			SourcePrimaryUnauthedOrAuthed(authenticated), e.primary,
			func(c context.Context, q, l string) ([]byte, error) {
				return e.primary.SearchVolumes(c, q, 0, orderBy, l, authenticated)
			},
			EventSearchingPrimary,
		)
	}

	if ctx.Err() != nil {
		e.bus.Publish(Event{Type: EventSearchError, QueryHash: hash, Payload: "cancelled"})
		return
	}

	if cumulative < limit && e.secondary != nil {
		e.searchProvider(ctx, hash, query, lang, orderBy, limit, &cumulative, seen,
			SourceSecondary, e.secondary,
			func(c context.Context, q, l string) ([]byte, error) {
				return e.secondary.SearchVolumes(c, q, 0, orderBy, l, false)
			},
			EventSearchingSecondary,
		)
	}

	if ctx.Err() != nil {
		e.bus.Publish(Event{Type: EventSearchError, QueryHash: hash, Payload: "cancelled"})
		return
	}

	e.bus.Publish(Event{Type: EventSearchComplete, QueryHash: hash})
}

// SourcePrimaryUnauthedOrAuthed picks the aggregation source tag that
// matches which primary credential mode this round used.
func SourcePrimaryUnauthedOrAuthed(authenticated bool) string {
	if authenticated {
		return SourcePrimaryAuthed
	}
	return SourcePrimaryUnauthed
}

// searchProvider runs one provider's search call, splits its response
// into per-volume payloads, aggregates+resolves each one, dedupes
// against seen, persists new books and publishes the resulting delta.
// Any failure along the way (breaker denial, transport error, unparseable
// response) is logged and swallowed, per the tiered fetcher's own
// failure semantics -- a provider outage narrows the search, it never
// fails the background job.
func (e *SearchEngine) searchProvider(ctx context.Context, hash, query, lang, orderBy string, limit int, cumulative *int, seen set[string], source string, provider Provider, call func(context.Context, string, string) ([]byte, error), searchingEvent EventType) {
	providerName := "provider"
	if provider != nil {
		providerName = provider.Name()
	}

	e.bus.Publish(Event{Type: searchingEvent, QueryHash: hash, Payload: SearchProgress{QueryHash: hash, Source: providerName}})

	if e.breaker != nil && !e.breaker.Allow(providerName) {
		e.bus.Publish(Event{Type: EventSearchRateLimited, QueryHash: hash, Payload: SearchProgress{QueryHash: hash, Source: providerName}})
		return
	}

	raw, err := call(ctx, query, lang)
	if e.breaker != nil {
		e.breaker.Report(providerName, err == nil)
	}
	if err != nil {
		if !IsNotFound(err) {
			Log(ctx).Warn("search provider call failed", "source", source, "queryHash", hash, "err", err)
		}
		return
	}

	items, err := splitSearchResults(source, raw)
	if err != nil {
		Log(ctx).Warn("search response unparseable", "source", source, "queryHash", hash, "err", err)
		return
	}

	var delta []CanonicalBook
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if *cumulative >= limit {
			break
		}

		book, err := Aggregate([]ProviderPayload{{Source: source, RawJSON: item}})
		if err != nil {
			continue
		}
		if book.Title == "" {
			continue
		}

		resolved, err := e.resolver.Resolve(ctx, Candidate{Book: book}, source, book.RawJSONResponse)
		if err != nil {
			Log(ctx).Warn("search result canonicalisation failed", "source", source, "queryHash", hash, "err", err)
			continue
		}
		if _, dup := seen[resolved.BookID]; dup {
			continue
		}
		seen[resolved.BookID] = struct{}{}

		if err := e.resolver.SyncEditionGroup(ctx, []CanonicalBook{resolved}); err != nil {
			Log(ctx).Warn("edition group sync failed", "bookId", resolved.BookID, "err", err)
		}

		delta = append(delta, resolved)
		*cumulative++
	}

	if len(delta) > 0 {
		e.bus.Publish(Event{
			Type:      EventSearchResultsUpdated,
			QueryHash: hash,
			Payload:   SearchResultsDelta{QueryHash: hash, DeltaBooks: delta, Source: source, CumulativeCount: *cumulative},
		})
	}
}

// splitSearchResults extracts the per-item raw JSON documents from a
// provider search response: "$.items[*]" for the primary (Google
// Books volumes collection) shape, "$.docs[*]" for the secondary
// (Open Library search) shape.
func splitSearchResults(source string, raw []byte) ([][]byte, error) {
	doc, err := oj.Parse(raw)
	if err != nil {
		return nil, NewError(KindParseError, "parsing search response", err)
	}

	path := "$.items"
	if source == SourceSecondary {
		path = "$.docs"
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, NewError(KindParseError, fmt.Sprintf("parsing search path %q", path), err)
	}

	var out [][]byte
	for _, item := range expr.Get(doc) {
		b, err := oj.Marshal(item)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
