package internal

import (
	"context"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Source names double as both the provider-adapter's breaker key and
// the aggregator's precedence key. Sources not in this list (an
// unrecognised value) sort last.
const (
	SourcePrimaryAuthed   = "primary-authed"
	SourcePrimaryUnauthed = "primary-unauthed"
	SourcePrimaryISBN     = "primary-isbn"
	SourceSecondary       = "secondary"
	SourceEditorial       = "editorial"
)

// precedence is the declared highest-to-lowest aggregation order.
// Lower index wins when both sources supply a scalar field.
var precedence = []string{
	SourcePrimaryAuthed,
	SourcePrimaryUnauthed,
	SourcePrimaryISBN,
	SourceSecondary,
	SourceEditorial,
}

func precedenceRank(source string) int {
	for i, s := range precedence {
		if s == source {
			return i
		}
	}
	return len(precedence) // unranked sources sort last
}

// ProviderPayload is one provider's raw response tagged with the
// source name used to rank it during aggregation.
type ProviderPayload struct {
	Source  string
	RawJSON []byte
}

// fields is the normalised intermediate shape every per-source
// extractor produces; Aggregate merges N of these under the
// precedence order instead of merging raw JSON shapes directly, since
// every provider's wire format differs.
type fields struct {
	source           string
	title            string
	subtitle         string
	description      string
	publisher        string
	publishedDate    string
	language         string
	isbn10           string
	isbn13           string
	coverImageURL    string
	infoLink         string
	previewLink      string
	purchaseLink     string
	webReaderLink    string
	providerVolumeID string
	pageCount        int
	ratingsCount     int
	averageRating    float64
	listPrice        float64
	currency         string
	pdfAvailable     bool
	epubAvailable    bool
	categories       []string
	authors          []string
}

// Aggregate merges an ordered list of provider payloads into one
// canonical record. Output always carries RawJSONResponse set to the
// composite of every input payload (for C5's book_raw_data snapshot of
// the merge); BookID is left empty for the caller (C7) to fill in.
func Aggregate(payloads []ProviderPayload) (CanonicalBook, error) {
	var extracted []fields
	for _, p := range payloads {
		if len(p.RawJSON) == 0 {
			continue
		}
		f, err := extractFields(p.Source, p.RawJSON)
		if err != nil {
			Log(context.Background()).Warn("skipping unparseable provider payload", "source", p.Source, "err", err)
			continue
		}
		extracted = append(extracted, f)
	}

	sortedByPrecedence(extracted)

	out := CanonicalBook{Qualifiers: map[string]any{}}

	out.Title = firstNonEmptyTitle(extracted)
	out.Subtitle = firstNonEmpty(extracted, func(f fields) string { return f.subtitle })
	out.Description = longestNonEmpty(extracted, func(f fields) string { return f.description })
	out.Publisher = firstNonEmpty(extracted, func(f fields) string { return f.publisher })
	out.PublishedDate = firstNonEmpty(extracted, func(f fields) string { return f.publishedDate })
	out.Language = firstNonEmpty(extracted, func(f fields) string { return f.language })
	out.ISBN10 = firstNonEmpty(extracted, func(f fields) string { return f.isbn10 })
	out.ISBN13 = firstNonEmpty(extracted, func(f fields) string { return f.isbn13 })
	out.CoverImageURL = firstNonEmpty(extracted, func(f fields) string { return f.coverImageURL })
	out.InfoLink = firstNonEmpty(extracted, func(f fields) string { return f.infoLink })
	out.PreviewLink = firstNonEmpty(extracted, func(f fields) string { return f.previewLink })
	out.PurchaseLink = firstNonEmpty(extracted, func(f fields) string { return f.purchaseLink })
	out.WebReaderLink = firstNonEmpty(extracted, func(f fields) string { return f.webReaderLink })
	out.PageCount = firstNonZeroInt(extracted, func(f fields) int { return f.pageCount })

	if src := highestConfidenceRatingSource(extracted); src != nil {
		out.AverageRating = src.averageRating
		out.RatingsCount = src.ratingsCount
	}
	if src := highestConfidencePriceSource(extracted); src != nil {
		out.ListPrice = src.listPrice
		out.Currency = src.currency
	}

	out.PDFAvailable = anyTrue(extracted, func(f fields) bool { return f.pdfAvailable })
	out.EPUBAvailable = anyTrue(extracted, func(f fields) bool { return f.epubAvailable })

	out.Categories = unionPreservingOrder(extracted, func(f fields) []string { return f.categories })
	out.Authors = unionPreservingOrder(extracted, func(f fields) []string { return f.authors })

	out.RawJSONResponse = compositeRawJSON(payloads)

	return out, nil
}

// sortedByPrecedence stable-sorts in place by precedenceRank so every
// "first non-empty" scan below walks sources in declared precedence
// order regardless of the order payloads were fetched/passed in.
func sortedByPrecedence(fs []fields) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && precedenceRank(fs[j-1].source) > precedenceRank(fs[j].source); j-- {
			fs[j-1], fs[j] = fs[j], fs[j-1]
		}
	}
}

// firstNonEmptyTitle applies the editorial-override rule: the
// editorial source's title is only used when every other source's
// title is empty.
func firstNonEmptyTitle(fs []fields) string {
	var editorial string
	for _, f := range fs {
		if f.source == SourceEditorial {
			editorial = f.title
			continue
		}
		if f.title != "" {
			return f.title
		}
	}
	return editorial
}

func firstNonEmpty(fs []fields, get func(fields) string) string {
	for _, f := range fs {
		if v := get(f); v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(fs []fields, get func(fields) int) int {
	for _, f := range fs {
		if v := get(f); v != 0 {
			return v
		}
	}
	return 0
}

func longestNonEmpty(fs []fields, get func(fields) string) string {
	best := ""
	for _, f := range fs {
		if v := get(f); len(v) > len(best) {
			best = v
		}
	}
	return best
}

func anyTrue(fs []fields, get func(fields) bool) bool {
	for _, f := range fs {
		if get(f) {
			return true
		}
	}
	return false
}

// unionPreservingOrder unions list-valued fields across sources in
// precedence order, keeping the order of first appearance and
// deduplicating exact (case-sensitive) repeats.
func unionPreservingOrder(fs []fields, get func(fields) []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range fs {
		for _, v := range get(f) {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// highestConfidenceRatingSource and highestConfidencePriceSource pick
// the most-trusted source that actually supplied a rating/price: the
// first such source in the general precedence order, which puts the
// authenticated primary before the unauthenticated primary before
// every other source.
func highestConfidenceRatingSource(fs []fields) *fields {
	for _, f := range fs {
		if f.ratingsCount > 0 || f.averageRating > 0 {
			c := f
			return &c
		}
	}
	return nil
}

func highestConfidencePriceSource(fs []fields) *fields {
	for _, f := range fs {
		if f.listPrice > 0 {
			c := f
			return &c
		}
	}
	return nil
}

// compositeRawJSON builds the aggregated-JSON envelope stored as
// book_raw_data's merge-of-record: an object keyed by source name.
func compositeRawJSON(payloads []ProviderPayload) []byte {
	composite := map[string]any{}
	for _, p := range payloads {
		if len(p.RawJSON) == 0 {
			continue
		}
		parsed, err := oj.Parse(p.RawJSON)
		if err != nil {
			continue
		}
		composite[p.Source] = parsed
	}
	out, err := oj.Marshal(composite)
	if err != nil {
		return nil
	}
	return out
}

// extractFields dispatches to the per-source extractor. Unknown
// sources are parsed generically: only a title, if present at the top
// level, is extracted.
func extractFields(source string, raw []byte) (fields, error) {
	parsed, err := oj.Parse(raw)
	if err != nil {
		return fields{}, NewError(KindParseError, "parsing provider payload", err)
	}

	switch source {
	case SourcePrimaryAuthed, SourcePrimaryUnauthed, SourcePrimaryISBN:
		return extractPrimaryFields(source, parsed), nil
	case SourceSecondary:
		return extractSecondaryFields(parsed), nil
	case SourceEditorial:
		return extractEditorialFields(parsed), nil
	default:
		f := fields{source: source}
		f.title = jpString(parsed, "$.title")
		return f, nil
	}
}

// jpString, jpFloat, jpInt, jpBool and jpStringArray read a single
// JSONPath expression out of a generically-parsed document, returning
// the zero value when the path doesn't resolve -- provider responses
// routinely omit optional fields and that's not an error.
func jpString(doc any, path string) string {
	v := jpFirst(doc, path)
	s, _ := v.(string)
	return s
}

func jpFloat(doc any, path string) float64 {
	v := jpFirst(doc, path)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func jpInt(doc any, path string) int {
	return int(jpFloat(doc, path))
}

func jpBool(doc any, path string) bool {
	v := jpFirst(doc, path)
	b, _ := v.(bool)
	return b
}

func jpStringArray(doc any, path string) []string {
	v := jpFirst(doc, path)
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jpFirst(doc any, path string) any {
	x, err := jp.ParseString(path)
	if err != nil {
		return nil
	}
	results := x.Get(doc)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}
