package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
)

// ObjectFetchResult is the tri-state result of a Fetch call: exactly
// one of Payload, NotFound, Disabled is meaningful; ServiceError
// carries the terminal-after-retries failure.
type ObjectFetchResult struct {
	Payload      []byte
	NotFound     bool
	Disabled     bool
	ServiceError error
}

// ObjectCache is the blob-store tier (C4): opaque JSON blobs keyed by
// canonical id, optionally gzip-compressed, with bounded retry on
// transient service errors only.
type ObjectCache struct {
	s3      *s3.Client
	bucket  string
	cfg     ObjectCacheConfig
	metrics *operationsMetrics
}

// WithMetrics attaches an operationsMetrics instance so write-back
// skip/write decisions are observable; safe to leave unset in tests.
func (o *ObjectCache) WithMetrics(m *operationsMetrics) *ObjectCache {
	if o == nil {
		return o
	}
	o.metrics = m
	return o
}

// ObjectCacheConfig controls retry behaviour and whether the tier is
// enabled at all (object-cache.bucket unset => disabled).
type ObjectCacheConfig struct {
	Bucket           string
	MaxAttempts      int
	InitialBackoff   time.Duration
	BackoffMultiplier float64
	WriteBackPolicy  WriteBackPolicy
}

// WriteBackPolicy resolves the "shouldUpdateS3 is ambiguous when
// inconclusive" open question: when none of the declared heuristics
// (identical text, longer description, more populated fields) decide
// the matter, WriteBackPolicy says what to do.
type WriteBackPolicy int

const (
	// PreferExisting skips the write when inconclusive, returning the
	// existing blob as authoritative. This is the default: it favours
	// stability of the stored JSON over chasing every provider refetch.
	PreferExisting WriteBackPolicy = iota
	// PreferIncoming always writes the new blob when inconclusive.
	PreferIncoming
)

// NewObjectCache builds an ObjectCache, or returns nil if cfg.Bucket
// is empty -- the tier is an optional capability per the design notes on
// optional subsystems, and callers pattern-match on a nil ObjectCache to
// short-circuit it.
func NewObjectCache(client *s3.Client, cfg ObjectCacheConfig) *ObjectCache {
	if cfg.Bucket == "" {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	return &ObjectCache{s3: client, bucket: cfg.Bucket, cfg: cfg}
}

// Fetch reads the blob for bookID, transparently gunzipping if the
// object is gzip-compressed (auto-detected from the magic bytes, not
// from Content-Encoding, since some producers mislabel it).
func (o *ObjectCache) Fetch(ctx context.Context, bookID string) ObjectFetchResult {
	if o == nil {
		return ObjectFetchResult{Disabled: true}
	}

	var lastErr error
	backoff := o.cfg.InitialBackoff

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		out, err := o.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(objectKey(bookID)),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return ObjectFetchResult{NotFound: true}
			}
			lastErr = err
			if ctx.Err() != nil {
				return ObjectFetchResult{ServiceError: NewError(KindCancelled, "fetch cancelled", ctx.Err())}
			}
			time.Sleep(backoff)
			backoff = time.Duration(float64(backoff) * o.cfg.BackoffMultiplier)
			continue
		}
		defer out.Body.Close()
		raw, err := io.ReadAll(out.Body)
		if err != nil {
			return ObjectFetchResult{ServiceError: NewError(KindTransient, "reading object body", err)}
		}
		payload, err := maybeGunzip(raw)
		if err != nil {
			return ObjectFetchResult{ServiceError: NewError(KindParseError, "decompressing object", err)}
		}
		return ObjectFetchResult{Payload: payload}
	}

	return ObjectFetchResult{ServiceError: NewError(KindTransient, fmt.Sprintf("fetch failed after %d attempts", o.cfg.MaxAttempts), lastErr)}
}

// Upload writes json for bookID, applying the write-back decision
// policy in ShouldWrite before making any network call so no-op writes
// never touch S3.
func (o *ObjectCache) Upload(ctx context.Context, bookID string, newJSON []byte) error {
	if o == nil {
		return nil
	}

	existing := o.Fetch(ctx, bookID)
	decision := ShouldWrite(existing, newJSON, o.cfg.WriteBackPolicy)
	if !decision.Write {
		if o.metrics != nil {
			o.metrics.writeBackSkippedInc()
		}
		return nil
	}

	if o.metrics != nil {
		o.metrics.writeBackWrittenInc()
	}
	return o.put(ctx, bookID, newJSON)
}

// PutRaw writes payload at an arbitrary key, bypassing the write-back
// decision policy -- used for keys outside the canonical books/v{N}/
// layout, e.g. the cover-cleanup job's quarantine records.
func (o *ObjectCache) PutRaw(ctx context.Context, key string, payload []byte) error {
	if o == nil {
		return nil
	}
	return o.putKey(ctx, key, payload)
}

func (o *ObjectCache) put(ctx context.Context, bookID string, payload []byte) error {
	return o.putKey(ctx, objectKey(bookID), payload)
}

func (o *ObjectCache) putKey(ctx context.Context, key string, payload []byte) error {
	var lastErr error
	backoff := o.cfg.InitialBackoff
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		_, err := o.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(o.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String("application/json"),
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return NewError(KindCancelled, "upload cancelled", ctx.Err())
		}
		time.Sleep(backoff)
		backoff = time.Duration(float64(backoff) * o.cfg.BackoffMultiplier)
	}
	return NewError(KindTransient, fmt.Sprintf("upload failed after %d attempts", o.cfg.MaxAttempts), lastErr)
}

// List enumerates keys under prefix, used by consolidation to scan the
// legacy keyspace.
func (o *ObjectCache) List(ctx context.Context, prefix string) ([]string, error) {
	if o == nil {
		return nil, nil
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(o.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return keys, NewError(KindTransient, "listing objects", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Copy duplicates src to dst within the same bucket, used when
// consolidation rewrites a legacy key to its canonical location.
func (o *ObjectCache) Copy(ctx context.Context, src, dst string) error {
	if o == nil {
		return nil
	}
	_, err := o.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(o.bucket),
		CopySource: aws.String(fmt.Sprintf("%s/%s", o.bucket, src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return NewError(KindTransient, "copying object", err)
	}
	return nil
}

// Delete removes key, used by consolidation to clean up obsolete
// legacy entries once a merge is committed.
func (o *ObjectCache) Delete(ctx context.Context, key string) error {
	if o == nil {
		return nil
	}
	_, err := o.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewError(KindTransient, "deleting object", err)
	}
	return nil
}

// WriteDecision is ShouldWrite's verdict, with a human-readable reason
// kept around for debug logging.
type WriteDecision struct {
	Write  bool
	Reason string
}

// ShouldWrite implements the §4.4 write-back policy: write when the
// existing blob is absent/unreadable, skip when the new blob is
// textually identical, prefer the new blob when its description is
// meaningfully longer, prefer it again when it has strictly more
// populated key fields, and otherwise fall back to policy.
func ShouldWrite(existing ObjectFetchResult, newJSON []byte, policy WriteBackPolicy) WriteDecision {
	if existing.NotFound || existing.Disabled || existing.ServiceError != nil || len(existing.Payload) == 0 {
		return WriteDecision{Write: true, Reason: "no existing blob"}
	}

	if bytes.Equal(bytes.TrimSpace(existing.Payload), bytes.TrimSpace(newJSON)) {
		return WriteDecision{Write: false, Reason: "identical to existing"}
	}

	newDesc := jsonStringField(newJSON, "description")
	existingDesc := jsonStringField(existing.Payload, "description")
	if newDesc != "" && (existingDesc == "" || float64(len(newDesc)) >= float64(len(existingDesc))*1.10) {
		return WriteDecision{Write: true, Reason: "incoming description longer"}
	}

	newCount := countPopulatedFields(newJSON)
	existingCount := countPopulatedFields(existing.Payload)
	if newCount > existingCount {
		return WriteDecision{Write: true, Reason: "incoming has more populated fields"}
	}

	if policy == PreferIncoming {
		return WriteDecision{Write: true, Reason: "inconclusive, policy prefers incoming"}
	}
	return WriteDecision{Write: false, Reason: "inconclusive, policy prefers existing"}
}

var _keyFields = []string{"publisher", "publishedDate", "pageCount", "isbn10", "isbn13", "language"}

// countPopulatedFields counts how many of the declared key fields are
// non-null/non-empty in raw, plus 1 if categories is a non-empty array.
func countPopulatedFields(raw []byte) int {
	n := 0
	for _, f := range _keyFields {
		if jsonHasNonEmptyField(raw, f) {
			n++
		}
	}
	if jsonHasNonEmptyArray(raw, "categories") {
		n++
	}
	return n
}

// maybeGunzip inspects the gzip magic number and transparently
// decompresses if present; otherwise returns raw unchanged.
func maybeGunzip(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Gzip compresses payload for upload when the caller opts into
// compression; Upload itself writes uncompressed JSON by default so
// Fetch's auto-detection is exercised either way.
func Gzip(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// jsonStringField and the helpers below do a minimal, dependency-free
// scan for a top-level field's value without pulling in a full
// decode -- ShouldWrite only needs existence/length, not a typed
// value, and an aggregated record's envelope is flat enough that a
// naive scan is safe and cheap compared to unmarshalling the whole
// blob on every write-back decision.
func jsonStringField(raw []byte, field string) string {
	idx := strings.Index(string(raw), `"`+field+`"`)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(field)+2:]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return ""
	}
	rest = bytes.TrimSpace(rest[colon+1:])
	if len(rest) == 0 || rest[0] != '"' {
		return ""
	}
	end := bytes.IndexByte(rest[1:], '"')
	if end < 0 {
		return ""
	}
	return string(rest[1 : 1+end])
}

func jsonHasNonEmptyField(raw []byte, field string) bool {
	if jsonStringField(raw, field) != "" {
		return true
	}
	idx := strings.Index(string(raw), `"`+field+`"`)
	if idx < 0 {
		return false
	}
	rest := raw[idx+len(field)+2:]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return false
	}
	rest = bytes.TrimSpace(rest[colon+1:])
	return len(rest) > 0 && rest[0] != '"' && !bytes.HasPrefix(rest, []byte("null"))
}

func jsonHasNonEmptyArray(raw []byte, field string) bool {
	idx := strings.Index(string(raw), `"`+field+`"`)
	if idx < 0 {
		return false
	}
	rest := raw[idx+len(field)+2:]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return false
	}
	rest = bytes.TrimSpace(rest[colon+1:])
	return len(rest) > 1 && rest[0] == '[' && rest[1] != ']'
}
