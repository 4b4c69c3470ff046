package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the orchestration boundary can persist and
// report it uniformly. Every error that crosses the pipeline boundary is a
// *Error with one of these kinds.
type Kind string

const (
	KindConfiguration     Kind = "configuration_error"
	KindInvalidRequest    Kind = "invalid_request"
	KindProvider          Kind = "provider_error"
	KindFetch             Kind = "fetch_error"
	KindInvalidMask       Kind = "invalid_mask"
	KindEmptyResult       Kind = "empty_result"
	KindInconsistentState Kind = "inconsistent_state"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
)

type Error struct {
	Kind Kind
	Msg  string
	// HTTPStatus and Body are set for provider/fetch errors so the remote
	// response can be inspected when diagnosing failures.
	HTTPStatus int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Msg, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a *Error with a formatted message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, keeping its message.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// ProviderHTTP builds a provider error carrying the remote status and body.
func ProviderHTTP(status int, body string) *Error {
	return &Error{Kind: KindProvider, Msg: "provider returned non-success status", HTTPStatus: status, Body: body}
}

// KindOf returns the kind of err, or empty string for untyped errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human-readable message persisted on failed requests.
// Provider failure messages are surfaced verbatim to the caller.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return err.Error()
}
