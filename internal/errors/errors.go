// Package errors classifies failures with codes that survive wrapping, and
// records what an upstream HTTP service answered.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// maxBody bounds how much of an upstream response body ends up in an error.
const maxBody = 256

// Code is a sentinel used for classification with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

// Error pairs a Code with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(Code)
	return ok && e.Code == t
}

func New(code Code, message string) error {
	return &Error{Code: code, Err: errors.New(message)}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: errors.Errorf(format, args...)}
}

// Wrap returns nil when err is nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: errors.Wrap(err, message)}
}

// Wrapf returns nil when err is nil.
func Wrapf(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: errors.Wrapf(err, format, args...)}
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// CodeOf returns the outermost Code in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	var c Code
	if stderrors.As(err, &c) {
		return c
	}
	return ""
}

// Codes lists every Code in err's chain, outermost first.
func Codes(err error) []Code {
	var out []Code
	for err != nil {
		switch e := err.(type) {
		case *Error:
			out = append(out, e.Code)
		case Code:
			out = append(out, e)
		}
		err = stderrors.Unwrap(err)
	}
	return out
}

// StatusError is a non-2xx answer from an upstream HTTP API.
type StatusError struct {
	Method string
	Path   string
	Status int
	// Body is the trimmed start of the response body.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Status classifies an upstream error response under code, keeping at most
// a short excerpt of body.
func Status(code Code, method, path string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return &Error{Code: code, Err: &StatusError{Method: method, Path: path, Status: status, Body: body}}
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Status
	}
	return 0
}
