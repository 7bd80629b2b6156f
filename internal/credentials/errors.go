package credentials

import (
	"errors"
	"fmt"
)

// Kind classifies why the credential file could not be read.
type Kind string

const (
	KindNotFound    Kind = "credentials_not_found"
	KindParse       Kind = "parse_error"
	KindNoOAuthData Kind = "no_oauth_data"
)

// Error is returned by Store.Read.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrParse       = &Error{Kind: KindParse}
	ErrNoOAuthData = &Error{Kind: KindNoOAuthData}
)

// KindOf returns the Kind carried by err, or "" if err is not a store error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
