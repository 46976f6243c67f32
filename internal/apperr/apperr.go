// Package apperr defines the typed failures every booknet operation reports.
// Callers branch on the Kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindNotFound means an entity id or code does not resolve.
	KindNotFound Kind = "not_found"
	// KindPermissionDenied means an ownership rule or loan precondition failed.
	KindPermissionDenied Kind = "permission_denied"
	// KindConflict means a concurrent or duplicate write was rejected.
	KindConflict Kind = "conflict"
	// KindExpired means an activation code is past its window.
	KindExpired Kind = "expired"
	// KindInvalid means the input was malformed.
	KindInvalid Kind = "invalid"
	// KindUnauthorized means the caller could not be authenticated.
	KindUnauthorized Kind = "unauthorized"
	// KindThrottled means the caller exceeded a rate limit.
	KindThrottled Kind = "throttled"
)

// Error is a classified failure with a human readable reason.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, apperr.ErrNotFound) works on any NotFound failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrInvalid          = &Error{Kind: KindInvalid}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrThrottled        = &Error{Kind: KindThrottled}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func PermissionDenied(msg string) error {
	return &Error{Kind: KindPermissionDenied, Msg: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Expired(msg string) error {
	return &Error{Kind: KindExpired, Msg: msg}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

func Throttled(msg string) error {
	return &Error{Kind: KindThrottled, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the reason carried by the first *Error in err's chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
