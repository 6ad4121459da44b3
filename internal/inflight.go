package internal

import (
	"context"
	"time"
)

// inflightTracker records merge groups that consolidation has started
// but not yet committed. Consolidator marks and clears entries; it
// does not read them back, so a crashed or cancelled run starts over
// from the whole keyspace.
type inflightTracker interface {
	MarkInFlight(ctx context.Context, definitiveID string) error
	InFlight(ctx context.Context) ([]string, error)
	MarkDone(ctx context.Context, definitiveID string) error
}

// cacheInflightTracker stores in-flight markers in the cache[[]byte]
// it wraps. The only implementation of that interface in this package
// is the process-local L1 cache, whose markers do not survive a
// process restart.
type cacheInflightTracker struct {
	cache cache[[]byte]
}

var _ inflightTracker = (*cacheInflightTracker)(nil)

// noInflightTracker no-ops tracking, used in tests and for one-shot
// dry runs where resumability doesn't matter.
type noInflightTracker struct{}

var _ inflightTracker = (*noInflightTracker)(nil)

func (*noInflightTracker) MarkInFlight(context.Context, string) error { return nil }
func (*noInflightTracker) InFlight(context.Context) ([]string, error) { return nil, nil }
func (*noInflightTracker) MarkDone(context.Context, string) error     { return nil }

// NewInflightTracker builds a cache-backed tracker. c must not be nil.
func NewInflightTracker(c cache[[]byte]) inflightTracker {
	return &cacheInflightTracker{cache: c}
}

func (t *cacheInflightTracker) MarkInFlight(ctx context.Context, definitiveID string) error {
	t.cache.Set(ctx, refreshMergeKey(definitiveID), []byte(definitiveID), 365*24*time.Hour)
	return nil
}

func (t *cacheInflightTracker) MarkDone(ctx context.Context, definitiveID string) error {
	return t.cache.Delete(ctx, refreshMergeKey(definitiveID))
}

// InFlight always returns an empty list: the cache interface has no
// prefix scan, so the stored markers cannot be listed back. The
// method exists so another tracker implementation can be substituted
// without changing the consolidation engine's call sites.
func (t *cacheInflightTracker) InFlight(ctx context.Context) ([]string, error) {
	return nil, nil
}
