package dsl

import "fmt"

// ErrorKind classifies a structured program failure.
type ErrorKind string

const (
	// ErrPathNotFound means an operand path stayed unresolved even after the
	// bounded fallback search.
	ErrPathNotFound ErrorKind = "PATH_NOT_FOUND"
	// ErrTypeMismatch means an operand had the wrong shape, e.g. a scalar
	// where an array was expected or a non-numeric aggregation element.
	ErrTypeMismatch ErrorKind = "TYPE_MISMATCH"
	// ErrDivisionByZero means a divide denominator resolved to exactly 0.
	ErrDivisionByZero ErrorKind = "DIVISION_BY_ZERO"
	// ErrEmptyAggregate means an aggregation ran over an array lacking the
	// elements it requires (min/max of an empty array).
	ErrEmptyAggregate ErrorKind = "EMPTY_AGGREGATE"
	// ErrIndexOutOfBounds means an index operation addressed a position the
	// array does not have.
	ErrIndexOutOfBounds ErrorKind = "INDEX_OUT_OF_BOUNDS"
	// ErrMalformedCandidate means a collaborator-returned program failed
	// structural validation before any interpretation.
	ErrMalformedCandidate ErrorKind = "MALFORMED_CANDIDATE"
)

// StepError is the structured failure the interpreter and validator report.
// It always carries the error kind; StepID and Op are set when the failure is
// attributable to one step.
type StepError struct {
	StepID string    `json:"step_id,omitempty"`
	Op     OpKind    `json:"op,omitempty"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("step %q (%s): %s: %s", e.StepID, e.Op, e.Kind, e.Detail)
}

// errf builds a StepError with a formatted detail message. Step attribution
// is filled in by the interpreter.
func errf(kind ErrorKind, format string, args ...any) *StepError {
	return &StepError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
