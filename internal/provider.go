package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Provider is the uniform contract every external metadata source
// implements. Adapters never retry: they fail fast and classify the
// failure via Kind so the breaker and tiered fetcher can decide what
// to do next. Every outbound call first consults the shared Breaker;
// a denied call returns ErrDisabled without touching the network.
type Provider interface {
	// Name identifies the provider for breaker/metrics bookkeeping
	// (e.g. "primary", "secondary", "editorial").
	Name() string

	// FetchVolumeByID fetches a single volume by its provider-native
	// id. authenticated selects the credentialed endpoint variant when
	// the provider has one.
	FetchVolumeByID(ctx context.Context, id string, authenticated bool) ([]byte, error)

	// SearchVolumes performs a paginated natural-language search.
	SearchVolumes(ctx context.Context, query string, startIndex int, order, language string, authenticated bool) ([]byte, error)

	// FetchByISBN looks a volume up by ISBN-10 or ISBN-13. Providers
	// that don't support ISBN search return an ErrPermanent-kind error.
	FetchByISBN(ctx context.Context, isbn string) ([]byte, error)

	// FetchBestsellerOverview fetches the current bestseller list
	// snapshot. Providers without a bestseller feed return an
	// ErrPermanent-kind error.
	FetchBestsellerOverview(ctx context.Context) ([]byte, error)
}

// ErrUnsupportedOperation is returned by providers that don't
// implement a given Provider method at all (as opposed to a transient
// failure calling one they do support).
var ErrUnsupportedOperation = NewError(KindPermanent, "operation not supported by this provider", nil)

// gate wraps a single outbound call with breaker admission and outcome
// reporting, and classifies the resulting error's Kind before handing
// it back. Every concrete provider funnels its HTTP calls through this
// so the "consult the gate, then report the outcome" contract can't be
// forgotten in any one adapter.
func gate(ctx context.Context, breaker *Breaker, provider string, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if breaker != nil && !breaker.Allow(provider) {
		return nil, NewError(KindDisabled, fmt.Sprintf("circuit open for provider %q", provider), nil)
	}

	payload, err := call(ctx)

	if breaker != nil {
		breaker.Report(provider, err == nil || statusErrKind(err) == KindNotFound)
	}

	if err != nil {
		return nil, classifyProviderErr(err)
	}
	return payload, nil
}

// classifyProviderErr normalises a raw transport/HTTP error into one of
// the Kinds the rest of the system understands.
func classifyProviderErr(err error) error {
	switch statusErrKind(err) {
	case KindNotFound:
		return NewError(KindNotFound, "volume not found", err)
	case KindTransient:
		return NewError(KindTransient, "upstream transient failure", err)
	case KindPermanent:
		return NewError(KindPermanent, "upstream rejected request", err)
	default:
		return NewError(KindTransient, "provider request failed", err)
	}
}

// readAll centralises the read-body-or-classify-error step shared by
// every adapter's HTTP calls.
func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTransient, "reading response body", err)
	}
	return b, nil
}
