// Package coreerr defines the structured error taxonomy the ingestion and
// streaming core dispatches policy on: per-file scan failures are logged
// and counted, playback failures are surfaced to the client.
package coreerr

import "fmt"

type Kind string

const (
	Io             Kind = "io"
	Codec          Kind = "codec"
	Repository     Kind = "repository"
	Classification Kind = "classification"
	Range          Kind = "range"
	NotFound       Kind = "not_found"
	Cancelled      Kind = "cancelled"
)

// Error wraps an underlying error with a dispatchable Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// Is reports whether err carries the given Kind, following wraps.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return e != nil && e.Kind == kind
}
