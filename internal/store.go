package internal

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relational tier (C5): the canonical book table, the
// external-id index, raw-provider snapshots, image links, edition
// links, list memberships and view-count aggregations. Every write
// here is idempotent; UPSERTs use COALESCE so a null incoming field
// never clobbers an existing value.
type Store struct {
	db *pgxpool.Pool
}

// NewStore wraps an existing pool. A nil *Store is a valid, inert
// "feature.database.enabled=false" tier: every method below returns
// ErrDisabled immediately so the tiered fetcher can pattern-match on
// presence exactly like it does for ObjectCache.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) enabled() bool { return s != nil && s.db != nil }

// bookColumns lists the books columns in scanBook's scan order, with
// every nullable column wrapped in COALESCE -- Upsert* writes
// NULLIF($n,'')/NULLIF($n,0) so these are true SQL NULLs for any
// field a caller never populated, and CanonicalBook's fields are
// plain string/int, not sql.Null*/pgtype, so the zero value has to
// come from the query rather than from the scan destination.
const bookColumns = `id, title, COALESCE(subtitle,''), COALESCE(description,''), slug, COALESCE(isbn10,''), COALESCE(isbn13,''), COALESCE(publisher,''), COALESCE(published_date,''), COALESCE(language,''), COALESCE(page_count,0), COALESCE(edition_number,0), COALESCE(edition_group_key,''), COALESCE(cover_image_url,''), created_at, updated_at`

func (s *Store) FetchByCanonicalID(ctx context.Context, bookID string) (*CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	return s.scanBook(ctx, "SELECT "+bookColumns+" FROM books WHERE id = $1", bookID)
}

func (s *Store) FetchByISBN13(ctx context.Context, isbn13 string) (*CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	return s.scanBook(ctx, "SELECT "+bookColumns+" FROM books WHERE isbn13 = $1", isbn13)
}

func (s *Store) FetchByISBN10(ctx context.Context, isbn10 string) (*CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	return s.scanBook(ctx, "SELECT "+bookColumns+" FROM books WHERE isbn10 = $1", isbn10)
}

func (s *Store) FetchBySlug(ctx context.Context, slug string) (*CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	return s.scanBook(ctx, "SELECT "+bookColumns+" FROM books WHERE slug = $1", slug)
}

// FetchByExternalID resolves (source, externalID) to the CanonicalBook
// it maps to, if any.
func (s *Store) FetchByExternalID(ctx context.Context, source, externalID string) (*CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	return s.scanBook(ctx, `
		SELECT b.id, b.title, COALESCE(b.subtitle,''), COALESCE(b.description,''), b.slug, COALESCE(b.isbn10,''), COALESCE(b.isbn13,''), COALESCE(b.publisher,''), COALESCE(b.published_date,''), COALESCE(b.language,''), COALESCE(b.page_count,0), COALESCE(b.edition_number,0), COALESCE(b.edition_group_key,''), COALESCE(b.cover_image_url,''), b.created_at, b.updated_at
		FROM books b
		JOIN book_external_ids x ON x.book_id = b.id
		WHERE x.source = $1 AND x.external_id = $2`, source, externalID)
}

func (s *Store) scanBook(ctx context.Context, query string, args ...any) (*CanonicalBook, error) {
	row := s.db.QueryRow(ctx, query, args...)
	var b CanonicalBook
	err := row.Scan(&b.BookID, &b.Title, &b.Subtitle, &b.Description, &b.Slug, &b.ISBN10, &b.ISBN13, &b.Publisher, &b.PublishedDate, &b.Language, &b.PageCount, &b.EditionNumber, &b.EditionGroupKey, &b.CoverImageURL, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewError(KindTransient, "scanning book row", err)
	}
	return &b, nil
}

// UpsertBook inserts or merges b by BookID. Every column uses
// COALESCE(new, existing) so a zero-value incoming field preserves
// whatever is already stored -- callers pass only the fields they
// actually know about.
func (s *Store) UpsertBook(ctx context.Context, b CanonicalBook) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO books (id, title, subtitle, description, slug, isbn10, isbn13, publisher, published_date, language, page_count, edition_number, edition_group_key, cover_image_url, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), NULLIF($11,0), NULLIF($12,0), NULLIF($13,''), NULLIF($14,''), now(), now())
		ON CONFLICT (id) DO UPDATE SET
			title              = COALESCE(NULLIF(EXCLUDED.title, ''), books.title),
			subtitle           = COALESCE(EXCLUDED.subtitle, books.subtitle),
			description        = COALESCE(EXCLUDED.description, books.description),
			isbn10             = COALESCE(EXCLUDED.isbn10, books.isbn10),
			isbn13             = COALESCE(EXCLUDED.isbn13, books.isbn13),
			publisher          = COALESCE(EXCLUDED.publisher, books.publisher),
			published_date     = COALESCE(EXCLUDED.published_date, books.published_date),
			language           = COALESCE(EXCLUDED.language, books.language),
			page_count         = COALESCE(EXCLUDED.page_count, books.page_count),
			edition_number     = COALESCE(EXCLUDED.edition_number, books.edition_number),
			edition_group_key  = COALESCE(EXCLUDED.edition_group_key, books.edition_group_key),
			cover_image_url    = COALESCE(EXCLUDED.cover_image_url, books.cover_image_url),
			updated_at         = now()
	`, b.BookID, b.Title, b.Subtitle, b.Description, b.Slug, b.ISBN10, b.ISBN13, b.Publisher, b.PublishedDate, b.Language, b.PageCount, b.EditionNumber, b.EditionGroupKey, b.CoverImageURL)
	if err != nil {
		return NewError(KindTransient, "upserting book", err)
	}
	return nil
}

// UpsertExternalMapping records that (source, externalID) maps to
// bookID, along with whatever provider-reported fields came with it.
// bookID may be reassigned later by consolidation, which is why this
// is keyed on (source, externalID) rather than being append-only.
func (s *Store) UpsertExternalMapping(ctx context.Context, m ExternalIdMapping) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO book_external_ids (book_id, source, external_id, provider_isbn10, provider_isbn13, info_link, preview_link, purchase_link, web_reader_link, average_rating, ratings_count, pdf_available, epub_available, list_price, currency_code, created_at, last_updated)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,0), NULLIF($11,0), $12, $13, NULLIF($14,0), NULLIF($15,''), now(), now())
		ON CONFLICT (source, external_id) DO UPDATE SET
			book_id          = EXCLUDED.book_id,
			provider_isbn10  = COALESCE(EXCLUDED.provider_isbn10, book_external_ids.provider_isbn10),
			provider_isbn13  = COALESCE(EXCLUDED.provider_isbn13, book_external_ids.provider_isbn13),
			info_link        = COALESCE(EXCLUDED.info_link, book_external_ids.info_link),
			preview_link     = COALESCE(EXCLUDED.preview_link, book_external_ids.preview_link),
			purchase_link    = COALESCE(EXCLUDED.purchase_link, book_external_ids.purchase_link),
			web_reader_link  = COALESCE(EXCLUDED.web_reader_link, book_external_ids.web_reader_link),
			average_rating   = COALESCE(EXCLUDED.average_rating, book_external_ids.average_rating),
			ratings_count    = COALESCE(EXCLUDED.ratings_count, book_external_ids.ratings_count),
			list_price       = COALESCE(EXCLUDED.list_price, book_external_ids.list_price),
			currency_code    = COALESCE(EXCLUDED.currency_code, book_external_ids.currency_code),
			last_updated     = now()
	`, m.BookID, m.Source, m.ExternalID, m.ProviderISBN10, m.ProviderISBN13, m.InfoLink, m.PreviewLink, m.PurchaseLink, m.WebReaderLink, m.AverageRating, m.RatingsCount, m.PDFAvailable, m.EPUBAvailable, m.ListPrice, m.Currency)
	if err != nil {
		return NewError(KindTransient, "upserting external mapping", err)
	}
	return nil
}

// UpsertRawSnapshot replaces the raw provider payload for (bookID,
// source); the newest write always wins per source.
func (s *Store) UpsertRawSnapshot(ctx context.Context, snap RawSnapshot) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO book_raw_data (book_id, source, raw_json_response, fetched_at, contributed_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (book_id, source) DO UPDATE SET
			raw_json_response = EXCLUDED.raw_json_response,
			fetched_at        = now()
	`, snap.BookID, snap.Source, snap.RawJSON)
	if err != nil {
		return NewError(KindTransient, "upserting raw snapshot", err)
	}
	return nil
}

// UpsertImageLink records a single (bookID, type) -> url mapping.
func (s *Store) UpsertImageLink(ctx context.Context, bookID string, imageType ImageType, url, source string) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO book_image_links (book_id, image_type, url, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (book_id, image_type) DO UPDATE SET
			url    = EXCLUDED.url,
			source = EXCLUDED.source
	`, bookID, string(imageType), url, source)
	if err != nil {
		return NewError(KindTransient, "upserting image link", err)
	}
	return nil
}

// EnsureUniqueSlug calls the ensure_unique_slug(TEXT) stored function
// which appends a numeric suffix until the slug is free.
func (s *Store) EnsureUniqueSlug(ctx context.Context, desired string) (string, error) {
	if !s.enabled() {
		return "", ErrDisabled
	}
	var slug string
	err := s.db.QueryRow(ctx, "SELECT ensure_unique_slug($1)", desired).Scan(&slug)
	if err != nil {
		return "", NewError(KindTransient, "ensuring unique slug", err)
	}
	return slug, nil
}

// SearchBooks performs a relational-only full text search against the
// book_search_view materialised view (see RefreshSearchView). It is
// the "pure relational" path searchBooks falls back to when called
// with bypassExternal=true, and is also what the rate-limited search
// engine uses for its immediate cached-rows response.
func (s *Store) SearchBooks(ctx context.Context, query, lang string, limit int, orderBy string) ([]CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	order := "rank DESC"
	switch orderBy {
	case "title":
		order = "b.title ASC"
	case "published_date":
		order = "b.published_date DESC NULLS LAST"
	}
	regconfig := "simple"
	if lang != "" {
		regconfig = lang
	}
	rows, err := s.db.Query(ctx, `
		SELECT b.id, b.title, COALESCE(b.subtitle,''), COALESCE(b.description,''), b.slug, COALESCE(b.isbn10,''), COALESCE(b.isbn13,''), COALESCE(b.publisher,''), COALESCE(b.published_date,''), COALESCE(b.language,''), COALESCE(b.page_count,0), COALESCE(b.edition_number,0), COALESCE(b.edition_group_key,''), COALESCE(b.cover_image_url,''), b.created_at, b.updated_at,
			ts_rank(v.document, websearch_to_tsquery($2::regconfig, $1)) AS rank
		FROM book_search_view v
		JOIN books b ON b.id = v.book_id
		WHERE v.document @@ websearch_to_tsquery($2::regconfig, $1)
		ORDER BY `+order+`
		LIMIT $3
	`, query, regconfig, limit)
	if err != nil {
		return nil, NewError(KindTransient, "searching books", err)
	}
	defer rows.Close()

	var out []CanonicalBook
	for rows.Next() {
		var b CanonicalBook
		var rank float64
		if err := rows.Scan(&b.BookID, &b.Title, &b.Subtitle, &b.Description, &b.Slug, &b.ISBN10, &b.ISBN13, &b.Publisher, &b.PublishedDate, &b.Language, &b.PageCount, &b.EditionNumber, &b.EditionGroupKey, &b.CoverImageURL, &b.CreatedAt, &b.UpdatedAt, &rank); err != nil {
			return nil, NewError(KindTransient, "scanning search row", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, NewError(KindTransient, "iterating search rows", err)
	}
	return out, nil
}

// RefreshSearchView triggers the materialised view refresh RPC.
func (s *Store) RefreshSearchView(ctx context.Context) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY book_search_view")
	if err != nil {
		return NewError(KindTransient, "refreshing search view", err)
	}
	return nil
}

// FetchViewStatsForBook aggregates recent_book_views over the three
// standard windows for a single book.
func (s *Store) FetchViewStatsForBook(ctx context.Context, bookID string) (ViewStats, error) {
	if !s.enabled() {
		return ViewStats{}, ErrDisabled
	}
	stats := ViewStats{BookID: bookID}
	err := s.db.QueryRow(ctx, `
		SELECT
			sum(CASE WHEN viewed_at > now() - interval '24 hours' THEN 1 ELSE 0 END),
			sum(CASE WHEN viewed_at > now() - interval '7 days'   THEN 1 ELSE 0 END),
			sum(CASE WHEN viewed_at > now() - interval '30 days'  THEN 1 ELSE 0 END)
		FROM recent_book_views WHERE book_id = $1
	`, bookID).Scan(&stats.Last24h, &stats.Last7d, &stats.Last30d)
	if err != nil {
		return stats, NewError(KindTransient, "fetching view stats", err)
	}
	return stats, nil
}

// FetchMostRecentViews returns the most recent view-count leaders,
// limited to limit rows.
func (s *Store) FetchMostRecentViews(ctx context.Context, limit int) ([]ViewStats, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	rows, err := s.db.Query(ctx, `
		SELECT book_id,
			sum(CASE WHEN viewed_at > now() - interval '24 hours' THEN 1 ELSE 0 END),
			sum(CASE WHEN viewed_at > now() - interval '7 days'   THEN 1 ELSE 0 END),
			sum(CASE WHEN viewed_at > now() - interval '30 days'  THEN 1 ELSE 0 END)
		FROM recent_book_views
		GROUP BY book_id
		ORDER BY 3 DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, NewError(KindTransient, "fetching recent views", err)
	}
	defer rows.Close()

	var out []ViewStats
	for rows.Next() {
		var v ViewStats
		if err := rows.Scan(&v.BookID, &v.Last24h, &v.Last7d, &v.Last30d); err != nil {
			return out, NewError(KindTransient, "scanning view stats", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// RecordView appends a RecentView row.
func (s *Store) RecordView(ctx context.Context, v RecentView) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, "INSERT INTO recent_book_views (book_id, viewed_at, source) VALUES ($1, $2, $3)", v.BookID, v.ViewedAt, v.Source)
	if err != nil {
		return NewError(KindTransient, "recording view", err)
	}
	return nil
}

// DeleteEditionLinksFor removes every book_editions row touching any
// of bookIDs, the first step of rewriting an edition cluster (§4.7.1):
// all existing links for involved books are deleted before the
// cluster is rewritten from scratch.
func (s *Store) DeleteEditionLinksFor(ctx context.Context, bookIDs []string) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, "DELETE FROM book_editions WHERE book_id = ANY($1) OR related_book_id = ANY($1)", bookIDs)
	if err != nil {
		return NewError(KindTransient, "deleting edition links", err)
	}
	return nil
}

// UpsertEditionLink records a single ALTERNATE_EDITION relationship,
// primary -> sibling.
func (s *Store) UpsertEditionLink(ctx context.Context, link EditionLink) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO book_editions (book_id, related_book_id, link_source, relationship_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (book_id, related_book_id) DO UPDATE SET
			link_source       = EXCLUDED.link_source,
			relationship_type = EXCLUDED.relationship_type,
			updated_at        = now()
	`, link.BookID, link.RelatedBookID, link.LinkSource, link.RelationshipType)
	if err != nil {
		return NewError(KindTransient, "upserting edition link", err)
	}
	return nil
}

// UpsertBookList records/updates a curated list snapshot.
func (s *Store) UpsertBookList(ctx context.Context, l BookList) (int64, error) {
	if !s.enabled() {
		return 0, ErrDisabled
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO book_lists (provider, provider_list_code, published_date, display_name, raw_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_list_code, published_date) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, book_lists.display_name),
			raw_json     = COALESCE(EXCLUDED.raw_json, book_lists.raw_json)
		RETURNING id
	`, l.Provider, l.ProviderListCode, l.PublishedDate, l.DisplayName, l.RawJSON).Scan(&id)
	if err != nil {
		return 0, NewError(KindTransient, "upserting book list", err)
	}
	return id, nil
}

// UpsertBookListMembership records bm's rank on its list.
func (s *Store) UpsertBookListMembership(ctx context.Context, bm BookListMembership) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO book_lists_join (list_id, book_id, rank, weeks_on_list, provider_isbn10, provider_isbn13, referral_url)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''))
		ON CONFLICT (list_id, book_id) DO UPDATE SET
			rank            = EXCLUDED.rank,
			weeks_on_list   = EXCLUDED.weeks_on_list,
			provider_isbn10 = COALESCE(EXCLUDED.provider_isbn10, book_lists_join.provider_isbn10),
			provider_isbn13 = COALESCE(EXCLUDED.provider_isbn13, book_lists_join.provider_isbn13),
			referral_url    = COALESCE(EXCLUDED.referral_url, book_lists_join.referral_url)
	`, bm.ListID, bm.BookID, bm.Rank, bm.WeeksOnList, bm.ProviderISBN10, bm.ProviderISBN13, bm.ReferralURL)
	if err != nil {
		return NewError(KindTransient, "upserting list membership", err)
	}
	return nil
}

// ListBooksWithCoverURLs pages through every book that has a non-null
// cover_image_url, ordered by id for stable pagination across batches.
func (s *Store) ListBooksWithCoverURLs(ctx context.Context, limit, offset int) ([]CanonicalBook, error) {
	if !s.enabled() {
		return nil, ErrDisabled
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, cover_image_url FROM books
		WHERE cover_image_url IS NOT NULL
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, NewError(KindTransient, "listing books with covers", err)
	}
	defer rows.Close()

	var out []CanonicalBook
	for rows.Next() {
		var b CanonicalBook
		if err := rows.Scan(&b.BookID, &b.CoverImageURL); err != nil {
			return out, NewError(KindTransient, "scanning cover row", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ClearCoverImage nulls out bookID's cover_image_url, used by the cover
// cleanup job to quarantine a URL that no longer resolves.
func (s *Store) ClearCoverImage(ctx context.Context, bookID string) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, "UPDATE books SET cover_image_url = NULL, updated_at = now() WHERE id = $1", bookID)
	if err != nil {
		return NewError(KindTransient, "clearing cover image", err)
	}
	return nil
}

// ReassignExternalMapping repoints every mapping under oldBookID to
// newBookID, used by consolidation when collapsing duplicates.
func (s *Store) ReassignExternalMapping(ctx context.Context, oldBookID, newBookID string) error {
	if !s.enabled() {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, "UPDATE book_external_ids SET book_id = $2, last_updated = now() WHERE book_id = $1", oldBookID, newBookID)
	if err != nil {
		return NewError(KindTransient, "reassigning external mapping", err)
	}
	return nil
}
