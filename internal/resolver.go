package internal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// slugify builds a URL-safe, lowercase candidate slug from a title;
// EnsureUniqueSlug appends a numeric suffix if it collides.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// PrimaryProviderSource is the ExternalIdMapping.Source value used for
// the primary provider's lookup key, independent of whether the
// fetch that produced the candidate used the authenticated or
// unauthenticated variant (both report as plain "primary" for
// cross-identifier lookup purposes, per §4.7 step 1).
const PrimaryProviderSource = "primary"

// Candidate is what C6 hands to the resolver: an aggregated record
// plus whatever raw identifiers were observed across the payloads that
// fed the aggregation.
type Candidate struct {
	Book             CanonicalBook
	ProviderVolumeID string
	ExistingBookID   string // candidate's own canonical UUID, if already known
	Mappings         []ExternalIdMapping
}

// Resolver is the canonical resolver (C7): given a candidate record it
// finds or mints the canonical bookId, synchronises every external-id
// mapping, and maintains edition-cluster links.
type Resolver struct {
	store *Store
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve implements §4.7: lookup-or-mint the canonical id, then
// persist the book row, external mappings, raw snapshot and image
// links, then synchronise edition-group membership if the book
// participates in one. Returns the fully persisted CanonicalBook.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, source string, raw []byte) (CanonicalBook, error) {
	book, _, err := r.ResolveMinted(ctx, c, source, raw)
	return book, err
}

// ResolveMinted is Resolve plus a minted flag reporting whether
// lookupOrMint actually minted a fresh UUID, as opposed to reusing a
// book found via ProviderVolumeID/ExistingBookID/ISBN lookup --
// consolidation needs this distinction to avoid over-counting new ids
// for books that were already on file under a different legacy key.
func (r *Resolver) ResolveMinted(ctx context.Context, c Candidate, source string, raw []byte) (CanonicalBook, bool, error) {
	bookID, minted, err := r.lookupOrMint(ctx, c)
	if err != nil {
		return CanonicalBook{}, false, err
	}
	c.Book.BookID = bookID

	slug, err := r.resolveSlug(ctx, bookID, c.Book)
	if err != nil {
		return CanonicalBook{}, false, err
	}
	c.Book.Slug = slug

	if err := r.store.UpsertBook(ctx, c.Book); err != nil && !errors.Is(err, ErrDisabled) {
		return CanonicalBook{}, false, err
	}

	for _, m := range c.Mappings {
		m.BookID = bookID
		if err := r.store.UpsertExternalMapping(ctx, m); err != nil && !errors.Is(err, ErrDisabled) {
			return CanonicalBook{}, false, err
		}
	}

	if c.ProviderVolumeID != "" {
		if err := r.store.UpsertExternalMapping(ctx, ExternalIdMapping{
			Source:        PrimaryProviderSource,
			ExternalID:    c.ProviderVolumeID,
			BookID:        bookID,
			ProviderISBN10: c.Book.ISBN10,
			ProviderISBN13: c.Book.ISBN13,
			InfoLink:      c.Book.InfoLink,
			PreviewLink:   c.Book.PreviewLink,
			PurchaseLink:  c.Book.PurchaseLink,
			WebReaderLink: c.Book.WebReaderLink,
			AverageRating: c.Book.AverageRating,
			RatingsCount:  c.Book.RatingsCount,
			PDFAvailable:  c.Book.PDFAvailable,
			EPUBAvailable: c.Book.EPUBAvailable,
			ListPrice:     c.Book.ListPrice,
			Currency:      c.Book.Currency,
		}); err != nil && !errors.Is(err, ErrDisabled) {
			return CanonicalBook{}, false, err
		}
	}

	if raw != nil {
		if err := r.store.UpsertRawSnapshot(ctx, RawSnapshot{BookID: bookID, Source: source, RawJSON: raw}); err != nil && !errors.Is(err, ErrDisabled) {
			return CanonicalBook{}, false, err
		}
	}

	if c.Book.CoverImageURL != "" {
		if err := r.store.UpsertImageLink(ctx, bookID, ImageExternal, c.Book.CoverImageURL, source); err != nil && !errors.Is(err, ErrDisabled) {
			return CanonicalBook{}, false, err
		}
	}

	return c.Book, minted, nil
}

// lookupOrMint implements the four-step precedence of §4.7. The
// second return reports whether step four actually ran -- i.e. a
// fresh UUID was minted rather than an existing book being reused --
// so callers that count newly-minted ids (consolidation) don't
// conflate "no UUID in the candidate's own id" with "genuinely new".
func (r *Resolver) lookupOrMint(ctx context.Context, c Candidate) (string, bool, error) {
	if c.ProviderVolumeID != "" {
		if b, err := r.store.FetchByExternalID(ctx, PrimaryProviderSource, c.ProviderVolumeID); err == nil {
			return b.BookID, false, nil
		} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDisabled) {
			return "", false, err
		}
	}

	if c.ExistingBookID != "" {
		if b, err := r.store.FetchByCanonicalID(ctx, c.ExistingBookID); err == nil {
			return b.BookID, false, nil
		} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDisabled) {
			return "", false, err
		}
	}

	if c.Book.ISBN13 != "" {
		if bookID, err := r.lookupByISBN(ctx, c.Book.ISBN13, r.store.FetchByISBN13); bookID != "" || err != nil {
			return bookID, false, err
		}
	}
	if c.Book.ISBN10 != "" {
		if bookID, err := r.lookupByISBN(ctx, c.Book.ISBN10, r.store.FetchByISBN10); bookID != "" || err != nil {
			return bookID, false, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", false, NewError(KindUnknown, "minting canonical uuid", err)
	}
	return id.String(), true, nil
}

// lookupByISBN searches both books and book_external_ids, per step 3
// ("search by ISBN-13, then by ISBN-10, in both tables").
func (r *Resolver) lookupByISBN(ctx context.Context, isbn string, byTable func(context.Context, string) (*CanonicalBook, error)) (string, error) {
	if b, err := byTable(ctx, isbn); err == nil {
		return b.BookID, nil
	} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDisabled) {
		return "", err
	}
	for _, source := range []string{PrimaryProviderSource, SourceSecondary} {
		if b, err := r.store.FetchByExternalID(ctx, source, isbn); err == nil {
			return b.BookID, nil
		} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDisabled) {
			return "", err
		}
	}
	return "", nil
}

// resolveSlug computes the slug for a newly- or already-canonicalised
// book: existing rows keep their current slug unless it's empty.
func (r *Resolver) resolveSlug(ctx context.Context, bookID string, candidate CanonicalBook) (string, error) {
	existing, err := r.store.FetchByCanonicalID(ctx, bookID)
	if err == nil && existing.Slug != "" {
		return existing.Slug, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDisabled) {
		return "", err
	}

	desired := candidate.Slug
	if desired == "" {
		desired = slugify(candidate.Title)
	}
	slug, err := r.store.EnsureUniqueSlug(ctx, desired)
	if errors.Is(err, ErrDisabled) {
		return desired, nil
	}
	if err != nil {
		return "", err
	}
	return slug, nil
}

// SyncEditionGroup implements §4.7.1: given every book sharing a
// non-null editionGroupKey, pick the primary (highest editionNumber,
// ties broken by canonicalId) and rewrite ALTERNATE_EDITION links
// primary -> sibling. Existing links for any involved book are deleted
// first. A cluster of size 1 is a no-op (after clearing stale links).
func (r *Resolver) SyncEditionGroup(ctx context.Context, cluster []CanonicalBook) error {
	if len(cluster) == 0 {
		return nil
	}

	ids := make([]string, len(cluster))
	for i, b := range cluster {
		ids[i] = b.BookID
	}
	if err := r.store.DeleteEditionLinksFor(ctx, ids); err != nil && !errors.Is(err, ErrDisabled) {
		return err
	}
	if len(cluster) < 2 {
		return nil
	}

	sorted := append([]CanonicalBook(nil), cluster...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EditionNumber != sorted[j].EditionNumber {
			return sorted[i].EditionNumber > sorted[j].EditionNumber
		}
		return sorted[i].BookID < sorted[j].BookID
	})

	primary := sorted[0]
	for _, sibling := range sorted[1:] {
		if err := r.store.UpsertEditionLink(ctx, EditionLink{
			BookID:           primary.BookID,
			RelatedBookID:    sibling.BookID,
			LinkSource:       "edition-group-sync",
			RelationshipType: "ALTERNATE_EDITION",
		}); err != nil && !errors.Is(err, ErrDisabled) {
			return err
		}
	}
	return nil
}
