// Package errors implements the evaluation error taxonomy.
// Every failure is fatal to the call that raised it; nothing is retried.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorKind classifies an evaluation failure.
type ErrorKind int

const (
	// KindPrecondition indicates a structural bug in scoring or partitioning.
	// Examples: true match absent from a candidate ordering, pair-set size mismatch.
	KindPrecondition ErrorKind = iota

	// KindWorkerFailure indicates a partition unit returned an error.
	KindWorkerFailure

	// KindDegenerateConfig indicates a configuration that cannot produce metrics.
	// Examples: empty reference set, zero workers, empty threshold list.
	KindDegenerateConfig

	// KindInvalidInput indicates malformed caller input.
	// Examples: nil matrix, dimension mismatch between embedding blocks.
	KindInvalidInput

	// KindTimeout indicates the barrier wait exceeded the configured bound.
	KindTimeout
)

var kindNames = map[ErrorKind]string{
	KindPrecondition:     "precondition",
	KindWorkerFailure:    "worker_failure",
	KindDegenerateConfig: "degenerate_config",
	KindInvalidInput:     "invalid_input",
	KindTimeout:          "timeout",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EvalError wraps an error with its kind and optional key/value context.
type EvalError struct {
	Kind       ErrorKind
	Message    string
	Underlying error
	Context    map[string]string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if len(e.Context) > 0 {
		b.WriteString(" (")
		for i, key := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", key, e.Context[key])
		}
		b.WriteString(")")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EvalError) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is an EvalError of the same kind.
func (e *EvalError) Is(target error) bool {
	var ee *EvalError
	if errors.As(target, &ee) {
		return e.Kind == ee.Kind
	}
	return false
}

// New creates an EvalError with the given kind and message.
func New(kind ErrorKind, message string, underlying error) *EvalError {
	return &EvalError{
		Kind:       kind,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// Newf creates an EvalError with a formatted message and no underlying error.
func Newf(kind ErrorKind, format string, args ...any) *EvalError {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key/value pair to the error.
func (e *EvalError) WithContext(key, value string) *EvalError {
	e.Context[key] = value
	return e
}

// KindOf extracts the ErrorKind from an error, defaulting to WorkerFailure
// for errors that were never classified.
func KindOf(err error) ErrorKind {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindWorkerFailure
}

// Sentinel errors for matching with errors.Is.
var (
	ErrPrecondition     = New(KindPrecondition, "precondition violated", nil)
	ErrWorkerFailure    = New(KindWorkerFailure, "worker failed", nil)
	ErrDegenerateConfig = New(KindDegenerateConfig, "degenerate configuration", nil)
	ErrInvalidInput     = New(KindInvalidInput, "invalid input", nil)
	ErrTimeout          = New(KindTimeout, "evaluation timed out", nil)
)

// Wrap wraps err with a kind classification. An error that is already an
// EvalError keeps its kind.
func Wrap(kind ErrorKind, message string, err error) error {
	if err == nil {
		return nil
	}

	var ee *EvalError
	if errors.As(err, &ee) {
		return &EvalError{
			Kind:       ee.Kind,
			Message:    message,
			Underlying: err,
			Context:    make(map[string]string),
		}
	}

	return New(kind, message, err)
}
