package internal

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// cache is the narrow interface every tier talks to for the L1
// process-local layer. It is generic so the same implementation can
// back byte-slice blobs (the common case) or, in tests, arbitrary
// values.
type cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	GetWithTTL(ctx context.Context, key string) (T, time.Duration, bool)
	Set(ctx context.Context, key string, val T, ttl time.Duration)
	Expire(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

// l1 is the bounded, process-wide implementation of cache[[]byte]
// backed by ristretto through gocache's generic wrapper. Reads and
// writes are concurrency-safe; eviction is best-effort and sized by
// maxCost.
type l1 struct {
	c *gocache.Cache[[]byte]
	// ttls tracks remaining TTL per key since ristretto doesn't expose
	// one directly through gocache's GetWithTTL for all store types.
	ttls *ttlTracker
}

// NewL1Cache builds the bounded process-local cache used by the tiered
// fetcher for CacheEntry rows. maxCost bounds approximate memory use in
// bytes; numCounters should be roughly 10x the expected number of
// distinct keys for ristretto's admission policy to behave well.
func NewL1Cache(maxCost int64, numCounters int64) (cache[[]byte], error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, NewError(KindPermanent, "creating ristretto cache", err)
	}

	rstore := ristretto_store.NewRistretto(rc)
	gc := gocache.New[[]byte](rstore)

	return &l1{c: gc, ttls: newTTLTracker()}, nil
}

func (l *l1) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := l.c.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (l *l1) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	v, ok := l.Get(ctx, key)
	if !ok {
		return nil, 0, false
	}
	return v, l.ttls.remaining(key), true
}

func (l *l1) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	opts := []store.Option{store.WithExpiration(ttl)}
	if err := l.c.Set(ctx, key, val, opts...); err != nil {
		Log(ctx).Warn("l1 cache set failed", "key", key, "err", err)
		return
	}
	l.ttls.set(key, ttl)
}

func (l *l1) Expire(ctx context.Context, key string) error {
	return l.Delete(ctx, key)
}

func (l *l1) Delete(ctx context.Context, key string) error {
	l.ttls.clear(key)
	return l.c.Delete(ctx, key)
}

// SweepExpired deletes every key this tracker believes is past its
// deadline and returns how many were removed. Satisfies l1Evictor for
// the scheduler's periodic eviction hook.
func (l *l1) SweepExpired(ctx context.Context) int {
	keys := l.ttls.expired()
	for _, k := range keys {
		_ = l.Delete(ctx, k)
	}
	return len(keys)
}
