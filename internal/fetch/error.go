package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformed indicates a response body could not be interpreted.
var ErrMalformed = errors.New("malformed response")

// ErrBudgetExhausted indicates retries were abandoned because the attempt count or the overall
// time budget ran out.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Class categorizes a fetch failure.
type Class int

const (
	// ClassTransient failures may succeed if retried later.
	ClassTransient Class = iota

	// ClassNotApplicable failures indicate the endpoint does not serve the requested data. They
	// are never retried.
	ClassNotApplicable
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassNotApplicable:
		return "not_applicable"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Error is the error returned by Client. It can be used with errors.As.
type Error struct {
	Class Class

	// StatusCode is the HTTP status of the last response. It is 0 when no response was received.
	StatusCode int

	URL string
	Err error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v %v (%d): %v", e.Class, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v %v: %v", e.Class, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Malformed wraps err as a not applicable failure caused by an uninterpretable body.
func Malformed(url string, err error) error {
	return &Error{
		Class: ClassNotApplicable,
		URL:   url,
		Err:   fmt.Errorf("%w: %v", ErrMalformed, err),
	}
}

// IsNotApplicable reports whether err is a not applicable fetch failure.
func IsNotApplicable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ClassNotApplicable
}

// IsTransient reports whether err is a transient fetch failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ClassTransient
}

// StatusCode returns the HTTP status carried by err or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// classify maps an HTTP status to an error. 2xx responses are successful.
func classify(url string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status >= 500:
		return &Error{Class: ClassTransient, StatusCode: status, URL: url, Err: errors.New(http.StatusText(status))}
	default:
		return &Error{Class: ClassNotApplicable, StatusCode: status, URL: url, Err: errors.New(http.StatusText(status))}
	}
}
