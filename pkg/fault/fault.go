// Package fault classifies the errors that stop a trustchain operation.
//
// A fault is never a verdict: a gate that runs and decides FAIL returns data,
// while a missing file or malformed document aborts the operation with a
// classified error. Each Kind maps to exactly one CLI exit code.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a fault.
type Kind string

const (
	KindUsage            Kind = "usage"
	KindBaselineNotFound Kind = "baseline_not_found"
	KindIO               Kind = "io"
	KindStructural       Kind = "structural"
	KindInvariant        Kind = "invariant"
)

// Exit codes of the CLI boundary. Each category owns one code.
const (
	ExitPass             = 0
	ExitFail             = 1
	ExitUsage            = 2
	ExitBaselineNotFound = 3
	ExitIO               = 4
	ExitInvariant        = 5
)

type classified struct {
	kind  Kind
	code  string
	cause error
}

func (e *classified) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return e.cause.Error()
}

func (e *classified) Unwrap() error { return e.cause }

// Wrap classifies err. A nil err stays nil.
func Wrap(err error, kind Kind, code string) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, code: code, cause: err}
}

// New creates a classified error from a formatted message.
func New(kind Kind, code, format string, args ...any) error {
	return &classified{kind: kind, code: code, cause: fmt.Errorf(format, args...)}
}

// IO classifies err as an I/O failure.
func IO(err error, code string) error { return Wrap(err, KindIO, code) }

// Structural classifies err as malformed input.
func Structural(err error, code string) error { return Wrap(err, KindStructural, code) }

// KindOf returns the kind of the outermost classified error in the chain, or "".
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	var inv *Invariant
	if errors.As(err, &inv) {
		return KindInvariant
	}
	return ""
}

// CodeOf returns the stable code attached to err, or "".
func CodeOf(err error) string {
	var c *classified
	if errors.As(err, &c) {
		return c.code
	}
	var inv *Invariant
	if errors.As(err, &inv) {
		return inv.Name
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps an error to its CLI exit code. Unclassified errors are
// treated as I/O failures so an unknown error can never exit 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitPass
	}
	switch KindOf(err) {
	case KindUsage:
		return ExitUsage
	case KindBaselineNotFound:
		return ExitBaselineNotFound
	case KindInvariant:
		return ExitInvariant
	case KindIO, KindStructural:
		return ExitIO
	default:
		return ExitIO
	}
}
