package fetch

import (
	"errors"
	"fmt"
)

// FetchError is a transient failure to obtain a snapshot: transport
// error, timeout, or a non-2xx response. StatusCode is zero when no
// response was received.
type FetchError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedResponseError means the response arrived but did not decode
// into the expected shape.
type MalformedResponseError struct {
	Path string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Path, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsFetchError reports whether err wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsMalformed reports whether err wraps a *MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
