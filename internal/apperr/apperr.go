// Package apperr defines the error taxonomy shared by the sync engine and
// the HTTP surface. Handlers map a Kind to a status code instead of
// inspecting error strings, so the vault sync engine stays free of any
// HTTP-specific knowledge.
package apperr

import "fmt"

// Kind classifies an error for the purposes of response-code mapping.
type Kind int

const (
	// KindValidation covers malformed input: bad vault names, missing
	// fields, unknown operation types, oversized payloads.
	KindValidation Kind = iota
	// KindNotFound covers unknown paths, file IDs, or soft-deleted records.
	KindNotFound
	// KindConflict covers create-at-existing-path, rename mismatches, and
	// ambiguous rename detection.
	KindConflict
	// KindFatal covers storage/backend failures that leave no partial state.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed application error carrying the operation kind and the
// offending identifier (a path or a file_id). User-visible text must
// name the operation and identifier but never leak internal paths or
// stack traces.
type Error struct {
	Kind       Kind
	Op         string // operation name, e.g. "create", "rename", "detect-rename"
	Identifier string // the path or file_id involved
	Err        error
}

func (e *Error) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Identifier, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, op, identifier string, err error) *Error {
	return &Error{Kind: kind, Op: op, Identifier: identifier, Err: err}
}

// Validationf builds a validation error with a formatted message.
func Validationf(op, identifier, format string, args ...any) *Error {
	return New(KindValidation, op, identifier, fmt.Errorf(format, args...))
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(op, identifier, format string, args ...any) *Error {
	return New(KindNotFound, op, identifier, fmt.Errorf(format, args...))
}

// Conflictf builds a conflict error with a formatted message.
func Conflictf(op, identifier, format string, args ...any) *Error {
	return New(KindConflict, op, identifier, fmt.Errorf(format, args...))
}

// Fatalf builds a fatal backend error with a formatted message.
func Fatalf(op, identifier string, err error) *Error {
	return New(KindFatal, op, identifier, err)
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	if ok {
		return ae, true
	}
	type wrapper interface{ Unwrap() error }
	for {
		w, ok := err.(wrapper)
		if !ok {
			return nil, false
		}
		err = w.Unwrap()
		if ae, ok := err.(*Error); ok {
			return ae, true
		}
		if err == nil {
			return nil, false
		}
	}
}
