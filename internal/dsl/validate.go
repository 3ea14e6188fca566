package dsl

import (
	"encoding/json"
	"strings"
)

// Validate applies the structural rules every candidate program must satisfy
// before it reaches the interpreter. Any violation is a MalformedCandidate;
// the returned *StepError names the first offending step where one exists.
func Validate(p *Program) *StepError {
	if p == nil {
		return errf(ErrMalformedCandidate, "program is nil")
	}
	if len(p.Steps) == 0 {
		return errf(ErrMalformedCandidate, "program has no steps")
	}

	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.ID == "" {
			return errf(ErrMalformedCandidate, "step %d has an empty id", i)
		}
		if seen[s.ID] {
			return stepErr(s, "duplicate step id")
		}
		seen[s.ID] = true
		if !isAbsolutePath(s.OutputPath) {
			return stepErr(s, "output_path must be absolute (slash-prefixed)")
		}
		if err := validateOp(s); err != nil {
			return err
		}
	}
	return nil
}

// stepErr builds a MalformedCandidate error attributed to one step.
func stepErr(s *Step, detail string) *StepError {
	return &StepError{StepID: s.ID, Op: s.Op.Kind, Kind: ErrMalformedCandidate, Detail: detail}
}

func isAbsolutePath(p string) bool {
	return len(p) > 1 && strings.HasPrefix(p, "/")
}

// validateOp enforces the per-kind required fields of one step's operation.
func validateOp(s *Step) *StepError {
	op := &s.Op
	switch op.Kind {
	case OpGet:
		if !isAbsolutePath(op.Path) {
			return stepErr(s, "get requires an absolute path")
		}
	case OpConstant:
		if !isScalar(op.Value) {
			return stepErr(s, "constant value must be a scalar (string, number, bool, or null)")
		}
	case OpPluck:
		if !isAbsolutePath(op.Path) || op.Key == "" {
			return stepErr(s, "pluck requires an absolute path and a key")
		}
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		if !isAbsolutePath(op.A) || !isAbsolutePath(op.B) {
			return stepErr(s, "arithmetic operands a and b must be absolute paths; use a constant step to introduce literals")
		}
	case OpCalculate:
		if !isAbsolutePath(op.ListPath) || op.OutputField == "" || op.AField == "" || op.BField == "" {
			return stepErr(s, "calculate requires list_path, output_field, a_field, and b_field")
		}
		if !validMath[op.Operator] {
			return stepErr(s, "calculate operator must be one of add, subtract, multiply, divide")
		}
	case OpSum, OpMin, OpMax, OpCount:
		if !isAbsolutePath(op.ListPath) {
			return stepErr(s, "aggregation requires an absolute list_path")
		}
	case OpIndex:
		if !isAbsolutePath(op.ListPath) {
			return stepErr(s, "index requires an absolute list_path")
		}
	case OpFilterNumeric:
		if !isAbsolutePath(op.ListPath) {
			return stepErr(s, "filter_numeric requires an absolute list_path")
		}
		if !validCmp[op.Operator] {
			return stepErr(s, "filter_numeric operator must be one of gt, lt, eq, gte, lte")
		}
	case OpSort:
		if !isAbsolutePath(op.ListPath) || op.Field == "" {
			return stepErr(s, "sort requires an absolute list_path and a field")
		}
	case OpFormatString:
		if op.Template == "" {
			return stepErr(s, "format_string requires a template")
		}
		for _, v := range op.Variables {
			if v.Key == "" || !isAbsolutePath(v.Path) {
				return stepErr(s, "format_string variables require a key and an absolute path")
			}
		}
	default:
		// Parse rejects unknown tags; this covers programs built in code.
		return stepErr(s, "unknown operation kind")
	}
	return nil
}

// isScalar reports whether v is a JSON scalar after an encoding/json
// round-trip: string, float64, bool, json.Number, or nil.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return true
	default:
		return false
	}
}
