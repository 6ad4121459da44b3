package internal

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the semantic buckets every tier
// and caller reasons about. Tier code maps whatever underlying failure
// it saw onto one of these before deciding whether to continue to the
// next tier, retry, or surface "not found" to the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDisabled
	KindTransient
	KindPermanent
	KindParseError
	KindConflict
	KindCancelled
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDisabled:
		return "disabled"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindParseError:
		return "parse_error"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// coreError wraps an underlying cause with a Kind so callers can branch
// on errors.Is without inspecting concrete types from other packages.
type coreError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *coreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *coreError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, ErrNotFound) work against a coreError without
// requiring the sentinel values below to be the literal cause.
func (e *coreError) Is(target error) bool {
	t, ok := target.(*coreError)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.msg == ""
}

// Sentinels for errors.Is comparisons. Every coreError of a given kind
// matches its corresponding sentinel.
var (
	ErrNotFound   = &coreError{kind: KindNotFound}
	ErrDisabled   = &coreError{kind: KindDisabled}
	ErrTransient  = &coreError{kind: KindTransient}
	ErrPermanent  = &coreError{kind: KindPermanent}
	ErrParse      = &coreError{kind: KindParseError}
	ErrConflict   = &coreError{kind: KindConflict}
	ErrCancelled  = &coreError{kind: KindCancelled}
	ErrTimeout    = &coreError{kind: KindTimeout}
)

// NewError builds a coreError of the given kind, wrapping cause (which
// may be nil).
func NewError(kind Kind, msg string, cause error) error {
	return &coreError{kind: kind, msg: msg, cause: cause}
}

// ErrorKind extracts the Kind carried by err, defaulting to KindUnknown
// for errors that never passed through NewError.
func ErrorKind(err error) Kind {
	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

// IsNotFound reports whether err (or anything it wraps) is a NotFound.
func IsNotFound(err error) bool {
	return ErrorKind(err) == KindNotFound
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	return ErrorKind(err) == KindTransient
}

// statusErr wraps an upstream HTTP status code so errorProxyTransport
// can hand it back to a caller that wants the original status, while
// still letting breaker/tier code classify it through Kind() (see
// statusErrKind). statusErr has no Is method, so errors.Is against the
// Kind sentinels does not match it.
type statusErr int

func (e statusErr) Error() string {
	return fmt.Sprintf("upstream returned status %d", int(e))
}

// Kind maps the HTTP status onto a semantic Kind: 429/5xx are
// Transient (breaker-countable, retry-eligible), 404 is NotFound, and
// other 4xx are Permanent.
func (e statusErr) Kind() Kind {
	switch {
	case int(e) == 404:
		return KindNotFound
	case int(e) == 429 || int(e) >= 500:
		return KindTransient
	case int(e) >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

func statusErrKind(err error) Kind {
	var se statusErr
	if errors.As(err, &se) {
		return se.Kind()
	}
	return ErrorKind(err)
}
