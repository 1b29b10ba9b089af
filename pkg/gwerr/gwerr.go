// Package gwerr defines the gateway's JSON-RPC error taxonomy (spec §7) and
// the retry classification the breaker/retry loop consults.
package gwerr

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes plus the gateway's server-range codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	// CodeDenied, CodeBackendNotFound, CodeUnavailable, CodeTransport and
	// CodeTimeout all live in the JSON-RPC server-error range -32000..-32099.
	CodeDenied         = -32000
	CodeBackendNotFound = -32001
	CodeUnavailable    = -32002
	CodeTransport      = -32003
	CodeTimeout        = -32004

	// CodeDuplicate is an application-level code (not JSON-RPC reserved
	// range), surfaced for a duplicate in-flight idempotent request.
	CodeDuplicate = 409
)

// Kind classifies an error for retry and cache-impact purposes.
type Kind int

const (
	KindParse Kind = iota
	KindMethodNotFound
	KindInvalidParams
	KindDenied
	KindBackendNotFound
	KindUnavailable
	KindTransport
	KindTimeout
	KindDuplicate
	KindInternal
)

// Error is the gateway's canonical error type: it carries a JSON-RPC code,
// a Kind for retry/cache-impact classification, and a human reason.
type Error struct {
	Code    int
	Kind    Kind
	Reason  string
	Backend string
	Tool    string
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Backend != "" && e.Tool != "":
		return fmt.Sprintf("%s (backend=%s tool=%s)", e.Reason, e.Backend, e.Tool)
	case e.Backend != "":
		return fmt.Sprintf("%s (backend=%s)", e.Reason, e.Backend)
	default:
		return e.Reason
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the surrounding retry loop (pkg/breaker) may
// reattempt a call that failed with this error. Only transport failures and
// backend timeouts are retried; protocol, policy, and duplicate errors never
// are (spec §4.3, §7).
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindTimeout
}

// CacheImpact reports whether an idempotency entry registered for this call
// must be removed so that a retry is possible (spec §7).
func (e *Error) CacheImpact() bool {
	return e.Kind == KindTransport || e.Kind == KindTimeout
}

func newErr(code int, kind Kind, reason string) *Error {
	return &Error{Code: code, Kind: kind, Reason: reason}
}

// Constructors, one per taxonomy row in spec §7.

func ParseError(cause error) *Error {
	e := newErr(CodeParseError, KindParse, "parse error")
	e.cause = cause
	return e
}

func InvalidRequest(reason string) *Error {
	return newErr(CodeInvalidRequest, KindParse, reason)
}

func MethodNotFound(method string) *Error {
	return newErr(CodeMethodNotFound, KindMethodNotFound, fmt.Sprintf("method not found: %s", method))
}

func InvalidParams(reason string) *Error {
	return newErr(CodeInvalidParams, KindInvalidParams, reason)
}

// Denied constructs a policy-denial error. rule should name the rule that
// triggered the denial in broad terms, e.g. "blocked by security policy" or
// "not in allow list" (spec §7).
func Denied(tool, backend, rule string) *Error {
	e := newErr(CodeDenied, KindDenied, fmt.Sprintf("denied: %s", rule))
	e.Tool, e.Backend = tool, backend
	return e
}

func BackendNotFound(backend string) *Error {
	e := newErr(CodeBackendNotFound, KindBackendNotFound, "backend not found")
	e.Backend = backend
	return e
}

func Unavailable(backend, reason string) *Error {
	e := newErr(CodeUnavailable, KindUnavailable, reason)
	e.Backend = backend
	return e
}

func Transport(backend string, cause error) *Error {
	e := newErr(CodeTransport, KindTransport, "transport error")
	e.Backend = backend
	e.cause = cause
	return e
}

func Timeout(backend, tool string) *Error {
	e := newErr(CodeTimeout, KindTimeout, "timeout")
	e.Backend, e.Tool = backend, tool
	return e
}

func Duplicate(key string) *Error {
	return newErr(CodeDuplicate, KindDuplicate, fmt.Sprintf("duplicate in-flight request for key %s", key))
}

func Internal(cause error) *Error {
	e := newErr(CodeInternal, KindInternal, "internal error")
	e.cause = cause
	return e
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
