package internal

import "fmt"

// Cache keys follow a single-letter-prefix convention: a leading byte
// identifies the record kind, so keys of different kinds never collide
// in the same cache.

// BookKey is the L1/object-cache key for a canonical book.
func BookKey(bookID string) string {
	return fmt.Sprintf("b%s", bookID)
}

// ExternalKey is the L1 key for an (source, externalId) -> bookId
// lookup, used to short-circuit a relational round trip on repeat
// fetches of the same external identifier.
func ExternalKey(source, externalID string) string {
	return fmt.Sprintf("x%s:%s", source, externalID)
}

// ISBNKey is the L1 key for an ISBN -> bookId lookup.
func ISBNKey(isbn string) string {
	return fmt.Sprintf("i%s", isbn)
}

// SlugKey is the L1 key for a slug -> bookId lookup.
func SlugKey(slug string) string {
	return fmt.Sprintf("g%s", slug)
}

// SearchKey is the L1 key for a cached search result page, scoped by
// queryHash.
func SearchKey(queryHash string) string {
	return fmt.Sprintf("q%s", queryHash)
}

// objectKey is the object-cache key for a canonical book, per the
// "books/v{N}/{canonicalId}.json" layout.
func objectKey(bookID string) string {
	return fmt.Sprintf("books/v%d/%s.json", objectKeyVersion, bookID)
}

const objectKeyVersion = 1

// sitemapKey is the well-known key holding the sorted array of all
// canonical IDs.
const sitemapKey = "sitemap/accumulated-ids.json"

// refreshMergeKey is the in-flight bookkeeping key: it marks a
// definitiveId whose consolidation/migration merge is still in flight.
func refreshMergeKey(definitiveID string) string {
	return fmt.Sprintf("rm%s", definitiveID)
}
