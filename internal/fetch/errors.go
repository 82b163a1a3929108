package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harvey-AU/beefetch/internal/transport"
)

// Error kinds. Match them with errors.Is.
var (
	ErrURLParse      = errors.New("url parse error")
	ErrIO            = errors.New("io error")
	ErrNetwork       = errors.New("network error")
	ErrServer        = errors.New("server error")
	ErrRedirectLimit = errors.New("redirect limit exceeded")
	ErrCanceled      = errors.New("transfer canceled")
)

// FetchError carries the kind of a failure plus the resource it happened on.
type FetchError struct {
	Kind   error
	URL    string
	Path   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == ErrServer:
		return fmt.Sprintf("server returned status %d for %s", e.Status, e.URL)
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.URL)
	}
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ParseError reports a malformed input URL.
func ParseError(rawURL string, err error) error {
	return &FetchError{Kind: ErrURLParse, URL: rawURL, Err: err}
}

func ioError(rawURL, path string, err error) error {
	return &FetchError{Kind: ErrIO, URL: rawURL, Path: path, Err: err}
}

func serverError(rawURL string, status int) error {
	return &FetchError{Kind: ErrServer, URL: rawURL, Status: status}
}

// networkError classifies a transport failure. Cancellation and redirect
// overflow get their own kinds; everything else is a NetworkError.
func networkError(rawURL string, err error) error {
	kind := ErrNetwork
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = ErrCanceled
	case errors.Is(err, transport.ErrTooManyRedirects):
		kind = ErrRedirectLimit
	}
	return &FetchError{Kind: kind, URL: rawURL, Err: err}
}
