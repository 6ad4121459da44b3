package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// _editorialStripTags sanitises scraped title/description text pulled
// out of HTML nodes before it is handed to the aggregator.
var _editorialStripTags = bluemonday.StrictPolicy()

// EditorialProvider fetches the bestseller list by scraping the public
// HTML list page with htmlquery when no JSON feed is available. It is
// the "editorial" source in the aggregator's precedence order: its
// title is only trusted when no other source supplied one.
type EditorialProvider struct {
	client  *http.Client
	breaker *Breaker
	host    string
}

var _ Provider = (*EditorialProvider)(nil)

// NewEditorialProvider builds an EditorialProvider bound to host.
func NewEditorialProvider(host string, breaker *Breaker) *EditorialProvider {
	return &EditorialProvider{
		client:  NewUpstream(host, rate.Every(_providerRequestInterval)),
		breaker: breaker,
		host:    host,
	}
}

func (p *EditorialProvider) Name() string { return "editorial" }

// FetchVolumeByID is unsupported: the editorial source only exposes
// list pages, not individual volumes.
func (p *EditorialProvider) FetchVolumeByID(context.Context, string, bool) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

// SearchVolumes scrapes the title-search results page and returns a
// small normalised JSON array of {title, isbn13} built from the parsed
// HTML, so the rest of the pipeline doesn't need to know this source
// isn't a JSON API.
func (p *EditorialProvider) SearchVolumes(ctx context.Context, query string, _ int, _, _ string, _ bool) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name(), func(ctx context.Context) ([]byte, error) {
		q := url.Values{}
		q.Set("query", query)
		u := fmt.Sprintf("https://%s/search?%s", p.host, q.Encode())
		doc, err := p.fetchHTML(ctx, u)
		if err != nil {
			return nil, err
		}
		return scrapeSearchResults(doc), nil
	})
}

// FetchByISBN is unsupported: the editorial source curates lists, it
// does not expose per-ISBN lookup.
func (p *EditorialProvider) FetchByISBN(context.Context, string) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

// FetchBestsellerOverview scrapes the bestseller overview page and
// returns a normalised JSON snapshot of the lists found on it.
func (p *EditorialProvider) FetchBestsellerOverview(ctx context.Context) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name(), func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("https://%s/lists/overview.html", p.host)
		doc, err := p.fetchHTML(ctx, u)
		if err != nil {
			return nil, err
		}
		return scrapeBestsellerOverview(doc), nil
	})
}

func (p *EditorialProvider) fetchHTML(ctx context.Context, rawurl string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, NewError(KindPermanent, "building request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewError(KindTransient, "dispatching request", err)
	}
	defer resp.Body.Close()

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		return nil, NewError(KindParseError, "parsing HTML document", err)
	}
	return doc, nil
}

func scrapeSearchResults(doc *html.Node) []byte {
	items := htmlquery.Find(doc, "//div[contains(@class,'bestseller-item')]")

	var b strings.Builder
	b.WriteString("[")
	for i, item := range items {
		title := _editorialStripTags.Sanitize(nodeText(htmlquery.FindOne(item, "//span[@class='title']")))
		isbn := nodeAttr(htmlquery.FindOne(item, "//span[@class='isbn13']"), "data-isbn")
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"title":%q,"isbn13":%q}`, strings.TrimSpace(title), isbn)
	}
	b.WriteString("]")
	return []byte(b.String())
}

// nodeText and nodeAttr guard against htmlquery.FindOne returning nil
// when the expected element is absent from a page, which happens
// often enough with scraped markup that it isn't exceptional.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	return htmlquery.InnerText(n)
}

func nodeAttr(n *html.Node, attr string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, attr)
}

func scrapeBestsellerOverview(doc *html.Node) []byte {
	lists := htmlquery.Find(doc, "//section[contains(@class,'list')]")

	var b strings.Builder
	b.WriteString("[")
	for i, list := range lists {
		name := _editorialStripTags.Sanitize(nodeText(htmlquery.FindOne(list, "//h2")))
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"listName":%q}`, strings.TrimSpace(name))
	}
	b.WriteString("]")
	return []byte(b.String())
}
