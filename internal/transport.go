package internal

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport rate limits outbound requests independently of
// the circuit breaker; the breaker decides whether a provider may be
// called at all, this decides how fast.
type throttledTransport struct {
	http.RoundTripper
	Limiter *rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, NewError(KindCancelled, "waiting for rate limiter", err)
	}
	return t.RoundTripper.RoundTrip(r)
}

// ScopedTransport restricts requests to a particular host so redirects
// can't send us (or our credentials) elsewhere.
type ScopedTransport struct {
	Host string
	http.RoundTripper
}

func (t ScopedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "https"
	r.URL.Host = t.Host
	return t.RoundTripper.RoundTrip(r)
}

// HeaderTransport adds a header to all requests, used to carry a
// provider API key when the classifier allows an authenticated call.
type HeaderTransport struct {
	Key   string
	Value string
	http.RoundTripper
}

func (t *HeaderTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Add(t.Key, t.Value)
	return t.RoundTripper.RoundTrip(r)
}

// errorProxyTransport turns 4xx/5xx responses into a statusErr so
// adapters can classify failures without inspecting *http.Response
// directly.
type errorProxyTransport struct {
	http.RoundTripper
}

func (t errorProxyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.RoundTripper.RoundTrip(r)
	if err != nil {
		return nil, NewError(KindTransient, "round trip failed", err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusErr(resp.StatusCode)
	}
	return resp, nil
}

// NewUpstream builds an http.Client scoped to host, rate limited to
// qps requests/sec, and with upstream errors surfaced as statusErr so
// provider adapters and the breaker can classify them uniformly.
func NewUpstream(host string, qps rate.Limit) *http.Client {
	return &http.Client{
		Transport: throttledTransport{
			Limiter: rate.NewLimiter(qps, 1),
			RoundTripper: ScopedTransport{
				Host:         host,
				RoundTripper: errorProxyTransport{http.DefaultTransport},
			},
		},
	}
}
