package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

// SecondaryProvider talks to an open bibliographic REST API (the
// "secondary" source in the aggregator's precedence order). Unlike
// PrimaryProvider it has no authenticated variant and no bestseller
// feed.
type SecondaryProvider struct {
	client  *http.Client
	breaker *Breaker
	host    string
}

var _ Provider = (*SecondaryProvider)(nil)

// NewSecondaryProvider builds a SecondaryProvider bound to host (e.g.
// "openlibrary.org").
func NewSecondaryProvider(host string, breaker *Breaker) *SecondaryProvider {
	return &SecondaryProvider{
		client:  NewUpstream(host, rate.Every(_providerRequestInterval)),
		breaker: breaker,
		host:    host,
	}
}

func (p *SecondaryProvider) Name() string { return "secondary" }

func (p *SecondaryProvider) FetchVolumeByID(ctx context.Context, id string, _ bool) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name(), func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("https://%s/books/%s.json", p.host, url.PathEscape(id))
		return p.get(ctx, u)
	})
}

func (p *SecondaryProvider) SearchVolumes(ctx context.Context, query string, startIndex int, _, language string, _ bool) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name(), func(ctx context.Context) ([]byte, error) {
		q := url.Values{}
		q.Set("q", query)
		q.Set("offset", fmt.Sprint(startIndex))
		if language != "" {
			q.Set("language", language)
		}
		u := fmt.Sprintf("https://%s/search.json?%s", p.host, q.Encode())
		return p.get(ctx, u)
	})
}

func (p *SecondaryProvider) FetchByISBN(ctx context.Context, isbn string) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name(), func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("https://%s/isbn/%s.json", p.host, url.PathEscape(isbn))
		return p.get(ctx, u)
	})
}

// FetchBestsellerOverview is unsupported: the open bibliographic
// source has no curated list feed.
func (p *SecondaryProvider) FetchBestsellerOverview(context.Context) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (p *SecondaryProvider) get(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, NewError(KindPermanent, "building request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewError(KindTransient, "dispatching request", err)
	}
	return readAll(resp)
}

// contributionRole classifies a contributor's role string the way the
// aggregator expects: only an empty role or "author" counts as a
// primary author; everything else (translator, illustrator, narrator,
// editor, foreword, afterword...) is a secondary contributor and is
// excluded from the Authors field.
func contributionRole(role string) bool {
	switch role {
	case "", "author":
		return true
	default:
		return false
	}
}
