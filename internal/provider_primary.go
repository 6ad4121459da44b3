package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// PrimaryProvider talks to the authenticated-and-unauthenticated
// volumes API (the "primary" source in the aggregator's precedence
// order). It never interprets the payload: it returns the provider's
// raw JSON verbatim for C6 to merge.
type PrimaryProvider struct {
	authed   *http.Client
	unauthed *http.Client
	apiKey   string
	breaker  *Breaker
	host     string
}

var _ Provider = (*PrimaryProvider)(nil)

// NewPrimaryProvider builds a PrimaryProvider bound to host (e.g.
// "www.googleapis.com"), using apiKey for the authenticated variant of
// every call that supports one.
func NewPrimaryProvider(host, apiKey string, breaker *Breaker) *PrimaryProvider {
	unauthed := NewUpstream(host, rate.Every(_providerRequestInterval))

	authedClient := NewUpstream(host, rate.Every(_providerRequestInterval))
	authedClient.Transport = &HeaderTransport{
		Key:          "X-Api-Key",
		Value:        apiKey,
		RoundTripper: authedClient.Transport,
	}

	return &PrimaryProvider{
		authed:   authedClient,
		unauthed: unauthed,
		apiKey:   apiKey,
		breaker:  breaker,
		host:     host,
	}
}

// _providerRequestInterval mirrors the upstream's documented rate
// limit of three requests per second.
const _providerRequestInterval = time.Second / 3

func (p *PrimaryProvider) Name() string { return "primary" }

func (p *PrimaryProvider) client(authenticated bool) *http.Client {
	if authenticated && p.apiKey != "" {
		return p.authed
	}
	return p.unauthed
}

func (p *PrimaryProvider) FetchVolumeByID(ctx context.Context, id string, authenticated bool) ([]byte, error) {
	providerName := p.providerName(authenticated)
	return gate(ctx, p.breaker, providerName, func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("https://%s/volumes/%s", p.host, url.PathEscape(id))
		return p.get(ctx, authenticated, u)
	})
}

func (p *PrimaryProvider) SearchVolumes(ctx context.Context, query string, startIndex int, order, language string, authenticated bool) ([]byte, error) {
	providerName := p.providerName(authenticated)
	return gate(ctx, p.breaker, providerName, func(ctx context.Context) ([]byte, error) {
		q := url.Values{}
		q.Set("q", query)
		q.Set("startIndex", strconv.Itoa(startIndex))
		if order != "" {
			q.Set("orderBy", order)
		}
		if language != "" {
			q.Set("langRestrict", language)
		}
		u := fmt.Sprintf("https://%s/volumes?%s", p.host, q.Encode())
		return p.get(ctx, authenticated, u)
	})
}

func (p *PrimaryProvider) FetchByISBN(ctx context.Context, isbn string) ([]byte, error) {
	providerName := p.providerName(false)
	return gate(ctx, p.breaker, providerName, func(ctx context.Context) ([]byte, error) {
		q := url.Values{}
		q.Set("q", "isbn:"+isbn)
		u := fmt.Sprintf("https://%s/volumes?%s", p.host, q.Encode())
		return p.get(ctx, false, u)
	})
}

func (p *PrimaryProvider) FetchBestsellerOverview(ctx context.Context) ([]byte, error) {
	return gate(ctx, p.breaker, p.Name()+"-lists", func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("https://%s/lists/overview.json?api-key=%s", p.host, url.QueryEscape(p.apiKey))
		return p.get(ctx, true, u)
	})
}

func (p *PrimaryProvider) providerName(authenticated bool) string {
	if authenticated {
		return "primary-authed"
	}
	return "primary-unauthed"
}

func (p *PrimaryProvider) get(ctx context.Context, authenticated bool, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, NewError(KindPermanent, "building request", err)
	}
	resp, err := p.client(authenticated).Do(req)
	if err != nil {
		return nil, NewError(KindTransient, "dispatching request", err)
	}
	return readAll(resp)
}
