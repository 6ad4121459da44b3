package internal

import "time"

// CanonicalBook is the unified book record produced by aggregation and
// canonicalisation. BookID is immutable once minted; Slug is globally
// unique.
type CanonicalBook struct {
	BookID           string         `json:"bookId"`
	Title            string         `json:"title"`
	Subtitle         string         `json:"subtitle,omitempty"`
	Description      string         `json:"description,omitempty"`
	Slug             string         `json:"slug"`
	ISBN10           string         `json:"isbn10,omitempty"`
	ISBN13           string         `json:"isbn13,omitempty"`
	Publisher        string         `json:"publisher,omitempty"`
	PublishedDate    string         `json:"publishedDate,omitempty"`
	Language         string         `json:"language,omitempty"`
	PageCount        int            `json:"pageCount,omitempty"`
	EditionNumber    int            `json:"editionNumber,omitempty"`
	EditionGroupKey  string         `json:"editionGroupKey,omitempty"`
	CoverImageURL    string         `json:"coverImageUrl,omitempty"`
	AverageRating    float64        `json:"averageRating,omitempty"`
	RatingsCount     int            `json:"ratingsCount,omitempty"`
	ListPrice        float64        `json:"listPrice,omitempty"`
	Currency         string         `json:"currency,omitempty"`
	InfoLink         string         `json:"infoLink,omitempty"`
	PreviewLink      string         `json:"previewLink,omitempty"`
	PurchaseLink     string         `json:"purchaseLink,omitempty"`
	WebReaderLink    string         `json:"webReaderLink,omitempty"`
	PDFAvailable     bool           `json:"pdfAvailable,omitempty"`
	EPUBAvailable    bool           `json:"epubAvailable,omitempty"`
	Categories       []string       `json:"categories,omitempty"`
	Authors          []string       `json:"authors,omitempty"`
	Qualifiers       map[string]any `json:"qualifiers,omitempty"`
	RawJSONResponse  []byte         `json:"-"`
	CreatedAt        time.Time      `json:"createdAt,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt,omitempty"`
}

// ImageType enumerates the book_image_links.image_type column values.
type ImageType string

const (
	ImagePreferred ImageType = "preferred"
	ImageFallback  ImageType = "fallback"
	ImageExternal  ImageType = "external"
	ImageObject    ImageType = "object"
)

// ExternalIdMapping binds an external, provider-scoped identifier to a
// CanonicalBook along with whatever denormalised fields that provider
// reported at fetch time. Unique on (Source, ExternalID); multiple
// mappings may point at the same BookID.
type ExternalIdMapping struct {
	Source        string  `json:"source"`
	ExternalID    string  `json:"externalId"`
	BookID        string  `json:"bookId"`
	ProviderISBN10 string `json:"providerIsbn10,omitempty"`
	ProviderISBN13 string `json:"providerIsbn13,omitempty"`
	InfoLink      string  `json:"infoLink,omitempty"`
	PreviewLink   string  `json:"previewLink,omitempty"`
	PurchaseLink  string  `json:"purchaseLink,omitempty"`
	WebReaderLink string  `json:"webReaderLink,omitempty"`
	AverageRating float64 `json:"averageRating,omitempty"`
	RatingsCount  int     `json:"ratingsCount,omitempty"`
	PDFAvailable  bool    `json:"pdfAvailable,omitempty"`
	EPUBAvailable bool    `json:"epubAvailable,omitempty"`
	ListPrice     float64 `json:"listPrice,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated,omitempty"`
}

// RawSnapshot is the opaque provider payload stored verbatim, unique on
// (BookID, Source); the newest write wins.
type RawSnapshot struct {
	BookID        string    `json:"bookId"`
	Source        string    `json:"source"`
	RawJSON       []byte    `json:"rawJson"`
	FetchedAt     time.Time `json:"fetchedAt"`
	ContributedAt time.Time `json:"contributedAt"`
}

// BookList is a provider-curated list (e.g. a bestseller list) snapshot.
type BookList struct {
	ListID          int64     `json:"listId"`
	Provider        string    `json:"provider"`
	ProviderListCode string   `json:"providerListCode"`
	PublishedDate   string    `json:"publishedDate"`
	DisplayName     string    `json:"displayName,omitempty"`
	RawJSON         []byte    `json:"rawJson,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// BookListMembership links a BookList to a CanonicalBook with its rank
// on that list.
type BookListMembership struct {
	ListID        int64  `json:"listId"`
	BookID        string `json:"bookId"`
	Rank          int    `json:"rank"`
	WeeksOnList   int    `json:"weeksOnList"`
	ProviderISBN10 string `json:"providerIsbn10,omitempty"`
	ProviderISBN13 string `json:"providerIsbn13,omitempty"`
	ReferralURL   string `json:"referralUrl,omitempty"`
}

// RecentView is an append-only view event used for 24h/7d/30d read-side
// aggregations.
type RecentView struct {
	BookID   string    `json:"bookId"`
	ViewedAt time.Time `json:"viewedAt"`
	Source   string    `json:"source"`
}

// ViewStats summarises RecentView rows for a single book across the
// standard windows.
type ViewStats struct {
	BookID string `json:"bookId"`
	Last24h int64 `json:"last24h"`
	Last7d  int64 `json:"last7d"`
	Last30d int64 `json:"last30d"`
}

// EditionLink records an ALTERNATE_EDITION relationship within an
// edition cluster, emitted primary -> sibling.
type EditionLink struct {
	BookID          string    `json:"bookId"`
	RelatedBookID   string    `json:"relatedBookId"`
	LinkSource      string    `json:"linkSource"`
	RelationshipType string   `json:"relationshipType"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
