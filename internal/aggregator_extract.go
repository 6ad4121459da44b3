package internal

// extractPrimaryFields reads a Google-Books-volume-shaped document:
//
//	{
//	  "id": "...",
//	  "volumeInfo": {
//	    "title", "subtitle", "authors": [...], "publisher",
//	    "publishedDate", "description", "industryIdentifiers": [
//	      {"type": "ISBN_10"|"ISBN_13", "identifier": "..."}
//	    ],
//	    "pageCount", "categories": [...], "averageRating",
//	    "ratingsCount", "language", "imageLinks": {"thumbnail"},
//	    "previewLink", "infoLink"
//	  },
//	  "saleInfo": {"listPrice": {"amount", "currencyCode"}, "buyLink"},
//	  "accessInfo": {
//	    "pdf": {"isAvailable"}, "epub": {"isAvailable"}, "webReaderLink"
//	  }
//	}
func extractPrimaryFields(source string, doc any) fields {
	f := fields{source: source}

	f.providerVolumeID = jpString(doc, "$.id")
	f.title = jpString(doc, "$.volumeInfo.title")
	f.subtitle = jpString(doc, "$.volumeInfo.subtitle")
	f.description = jpString(doc, "$.volumeInfo.description")
	f.publisher = jpString(doc, "$.volumeInfo.publisher")
	f.publishedDate = jpString(doc, "$.volumeInfo.publishedDate")
	f.language = jpString(doc, "$.volumeInfo.language")
	f.pageCount = jpInt(doc, "$.volumeInfo.pageCount")
	f.categories = jpStringArray(doc, "$.volumeInfo.categories")
	f.authors = jpStringArray(doc, "$.volumeInfo.authors")
	f.averageRating = jpFloat(doc, "$.volumeInfo.averageRating")
	f.ratingsCount = jpInt(doc, "$.volumeInfo.ratingsCount")
	f.coverImageURL = jpString(doc, "$.volumeInfo.imageLinks.thumbnail")
	f.previewLink = jpString(doc, "$.volumeInfo.previewLink")
	f.infoLink = jpString(doc, "$.volumeInfo.infoLink")
	f.listPrice = jpFloat(doc, "$.saleInfo.listPrice.amount")
	f.currency = jpString(doc, "$.saleInfo.listPrice.currencyCode")
	f.purchaseLink = jpString(doc, "$.saleInfo.buyLink")
	f.pdfAvailable = jpBool(doc, "$.accessInfo.pdf.isAvailable")
	f.epubAvailable = jpBool(doc, "$.accessInfo.epub.isAvailable")
	f.webReaderLink = jpString(doc, "$.accessInfo.webReaderLink")

	for _, id := range jpIdentifierArray(doc, "$.volumeInfo.industryIdentifiers") {
		switch id.typ {
		case "ISBN_13":
			f.isbn13 = id.identifier
		case "ISBN_10":
			f.isbn10 = id.identifier
		}
	}

	return f
}

// extractSecondaryFields reads an Open-Library-edition-shaped
// document:
//
//	{
//	  "title", "publish_date", "number_of_pages",
//	  "publishers": [...], "isbn_10": [...], "isbn_13": [...],
//	  "subjects": [...],
//	  "contributors": [{"name", "role"}],
//	  "cover": {"medium": "..."}
//	}
//
// Only contributors whose role is empty or "author" count toward the
// authors list, mirroring the upstream's own author/contributor
// distinction.
func extractSecondaryFields(doc any) fields {
	f := fields{source: SourceSecondary}

	f.title = jpString(doc, "$.title")
	f.publishedDate = jpString(doc, "$.publish_date")
	f.pageCount = jpInt(doc, "$.number_of_pages")
	f.categories = jpStringArray(doc, "$.subjects")
	f.coverImageURL = jpString(doc, "$.cover.medium")

	if publishers := jpStringArray(doc, "$.publishers"); len(publishers) > 0 {
		f.publisher = publishers[0]
	}
	if isbn13s := jpStringArray(doc, "$.isbn_13"); len(isbn13s) > 0 {
		f.isbn13 = isbn13s[0]
	}
	if isbn10s := jpStringArray(doc, "$.isbn_10"); len(isbn10s) > 0 {
		f.isbn10 = isbn10s[0]
	}

	for _, c := range jpContributorArray(doc, "$.contributors") {
		if contributionRole(c.role) {
			f.authors = append(f.authors, c.name)
		}
	}

	return f
}

// extractEditorialFields reads the scraped bestseller/search-result
// shape produced by provider_editorial.go's scrapeSearchResults and
// scrapeBestsellerOverview: {"title": "..."}. Editorial is a
// title-only source per the aggregation precedence rule.
func extractEditorialFields(doc any) fields {
	return fields{
		source: SourceEditorial,
		title:  jpString(doc, "$.title"),
	}
}

type industryIdentifier struct {
	typ        string
	identifier string
}

func jpIdentifierArray(doc any, path string) []industryIdentifier {
	v := jpFirst(doc, path)
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]industryIdentifier, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := m["type"].(string)
		ident, _ := m["identifier"].(string)
		out = append(out, industryIdentifier{typ: typ, identifier: ident})
	}
	return out
}

type contributor struct {
	name string
	role string
}

func jpContributorArray(doc any, path string) []contributor {
	v := jpFirst(doc, path)
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]contributor, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		role, _ := m["role"].(string)
		out = append(out, contributor{name: name, role: role})
	}
	return out
}
