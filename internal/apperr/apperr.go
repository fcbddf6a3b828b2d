// Package apperr defines the error kinds surfaced by the service.
//
// Every failure that leaves a component carries exactly one Kind so callers
// (HTTP handlers, the CLI, batch ingestion) can decide how to report it
// without string matching.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDuplicate
	KindFetch
	KindStorage
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindFetch:
		return "fetch"
	case KindStorage:
		return "storage"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrFetch      = &Error{Kind: KindFetch}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrDuplicate) works
// regardless of Op or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation returns a user-correctable input error.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Duplicate reports an already-ingested URL.
func Duplicate(op, url string) error {
	return &Error{Kind: KindDuplicate, Op: op, Msg: "article with this URL already exists: " + url}
}

// Fetch wraps a failure to load or parse a source page.
func Fetch(op string, err error) error {
	return &Error{Kind: KindFetch, Op: op, Msg: "failed to load the page, check the URL and try again", Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// NotFound reports a missing article or keyword.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a kind to the response status used by the API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicate:
		return http.StatusConflict
	case KindFetch:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
