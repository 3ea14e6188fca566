// Package dsl defines the canonical data types for microforge logic programs:
// the closed operation tagged union, steps, programs, and the structured
// errors the interpreter reports. All program JSON produced or consumed by
// the generative collaborators round-trips through these types.
package dsl

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies one supported operation. The set is closed: unknown tags
// are rejected when a program is parsed, never during evaluation.
type OpKind string

const (
	OpGet           OpKind = "get"
	OpConstant      OpKind = "constant"
	OpPluck         OpKind = "pluck"
	OpAdd           OpKind = "add"
	OpSubtract      OpKind = "subtract"
	OpMultiply      OpKind = "multiply"
	OpDivide        OpKind = "divide"
	OpCalculate     OpKind = "calculate"
	OpSum           OpKind = "sum"
	OpMin           OpKind = "min"
	OpMax           OpKind = "max"
	OpCount         OpKind = "count"
	OpIndex         OpKind = "index"
	OpFilterNumeric OpKind = "filter_numeric"
	OpSort          OpKind = "sort"
	OpFormatString  OpKind = "format_string"
)

// knownOps is the closed set of operation tags accepted at parse time.
var knownOps = map[OpKind]bool{
	OpGet: true, OpConstant: true, OpPluck: true,
	OpAdd: true, OpSubtract: true, OpMultiply: true, OpDivide: true,
	OpCalculate: true, OpSum: true, OpMin: true, OpMax: true, OpCount: true,
	OpIndex: true, OpFilterNumeric: true, OpSort: true, OpFormatString: true,
}

// Comparison operators accepted by filter_numeric.
const (
	CmpGt  = "gt"
	CmpLt  = "lt"
	CmpEq  = "eq"
	CmpGte = "gte"
	CmpLte = "lte"
)

// validCmp is the set of comparison operators accepted by filter_numeric.
var validCmp = map[string]bool{CmpGt: true, CmpLt: true, CmpEq: true, CmpGte: true, CmpLte: true}

// validMath is the set of arithmetic operators accepted by calculate.
var validMath = map[string]bool{
	string(OpAdd): true, string(OpSubtract): true,
	string(OpMultiply): true, string(OpDivide): true,
}

// Variable binds a template placeholder name to a document path.
type Variable struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

// Operation is one member of the tagged union, discriminated by the "op"
// field. Only the fields relevant to Kind are populated; Validate enforces
// the per-kind requirements.
type Operation struct {
	Kind OpKind

	// get, pluck
	Path string
	Key  string

	// constant; must be a scalar (string, number, bool, or null)
	Value any

	// binary arithmetic operand paths
	A string
	B string

	// calculate, aggregations, index, filter_numeric, sort
	ListPath    string
	OutputField string
	Operator    string
	AField      string
	BField      string
	Field       string
	Descending  bool
	Index       int
	FilterValue float64

	// format_string
	Template  string
	Variables []Variable
}

// opJSON is the wire form of Operation. Fields are a superset across kinds;
// MarshalJSON emits only the fields belonging to the operation's kind.
type opJSON struct {
	Op          OpKind     `json:"op"`
	Path        string     `json:"path,omitempty"`
	Key         string     `json:"key,omitempty"`
	A           string     `json:"a,omitempty"`
	B           string     `json:"b,omitempty"`
	ListPath    string     `json:"list_path,omitempty"`
	OutputField string     `json:"output_field,omitempty"`
	Operator    string     `json:"operator,omitempty"`
	AField      string     `json:"a_field,omitempty"`
	BField      string     `json:"b_field,omitempty"`
	Field       string     `json:"field,omitempty"`
	Descending  *bool      `json:"descending,omitempty"`
	Index       *int       `json:"index,omitempty"`
	Template    string     `json:"template,omitempty"`
	Variables   []Variable `json:"variables,omitempty"`
}

// rawOpJSON mirrors opJSON for decoding, with the fields that collide on the
// wire ("value" doubles as the constant literal and the filter threshold)
// disambiguated by kind after decoding.
type rawOpJSON struct {
	Op          OpKind          `json:"op"`
	Path        string          `json:"path"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	A           string          `json:"a"`
	B           string          `json:"b"`
	ListPath    string          `json:"list_path"`
	OutputField string          `json:"output_field"`
	Operator    string          `json:"operator"`
	AField      string          `json:"a_field"`
	BField      string          `json:"b_field"`
	Field       string          `json:"field"`
	Descending  bool            `json:"descending"`
	Index       *int            `json:"index"`
	Template    string          `json:"template"`
	Variables   []Variable      `json:"variables"`
}

// UnmarshalJSON decodes an operation and rejects unknown "op" tags so that a
// malformed candidate program fails at parse time, before any evaluation.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw rawOpJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !knownOps[raw.Op] {
		return fmt.Errorf("dsl: unknown operation tag %q", raw.Op)
	}
	*o = Operation{
		Kind:        raw.Op,
		Path:        raw.Path,
		Key:         raw.Key,
		A:           raw.A,
		B:           raw.B,
		ListPath:    raw.ListPath,
		OutputField: raw.OutputField,
		Operator:    raw.Operator,
		AField:      raw.AField,
		BField:      raw.BField,
		Field:       raw.Field,
		Descending:  raw.Descending,
		Template:    raw.Template,
		Variables:   raw.Variables,
	}
	if raw.Index != nil {
		o.Index = *raw.Index
	}
	if len(raw.Value) > 0 {
		switch raw.Op {
		case OpFilterNumeric:
			if err := json.Unmarshal(raw.Value, &o.FilterValue); err != nil {
				return fmt.Errorf("dsl: filter_numeric value must be a number: %w", err)
			}
		default:
			if err := json.Unmarshal(raw.Value, &o.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalJSON emits the operation with only the fields belonging to its kind.
// The output parses back to an equal Operation.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := opJSON{Op: o.Kind}
	switch o.Kind {
	case OpGet:
		w.Path = o.Path
	case OpConstant:
		// omitempty would drop false/0/null constants; marshal by hand.
		return json.Marshal(struct {
			Op    OpKind `json:"op"`
			Value any    `json:"value"`
		}{o.Kind, o.Value})
	case OpPluck:
		w.Path, w.Key = o.Path, o.Key
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		w.A, w.B = o.A, o.B
	case OpCalculate:
		w.ListPath, w.OutputField, w.Operator = o.ListPath, o.OutputField, o.Operator
		w.AField, w.BField = o.AField, o.BField
	case OpSum, OpMin, OpMax:
		w.ListPath, w.Field = o.ListPath, o.Field
	case OpCount:
		w.ListPath = o.ListPath
	case OpIndex:
		idx := o.Index
		w.ListPath, w.Index = o.ListPath, &idx
	case OpFilterNumeric:
		return json.Marshal(struct {
			Op       OpKind  `json:"op"`
			ListPath string  `json:"list_path"`
			Field    string  `json:"field,omitempty"`
			Operator string  `json:"operator"`
			Value    float64 `json:"value"`
		}{o.Kind, o.ListPath, o.Field, o.Operator, o.FilterValue})
	case OpSort:
		desc := o.Descending
		w.ListPath, w.Field, w.Descending = o.ListPath, o.Field, &desc
	case OpFormatString:
		w.Template, w.Variables = o.Template, o.Variables
	default:
		return nil, fmt.Errorf("dsl: cannot marshal unknown operation kind %q", o.Kind)
	}
	return json.Marshal(w)
}

// Step is one identified unit of a program: an operation plus the path its
// result is written to. Steps are immutable once created; a failed program is
// replaced wholesale, never patched step-by-step.
type Step struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Op          Operation `json:"operation"`
	OutputPath  string    `json:"output_path"`
}

// Definition names a program and carries the input/output JSON schemas the
// Architect proposed for it. The schemas drive output projection and are
// echoed into later collaborator prompts.
type Definition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Program is an ordered sequence of steps executed start to end. Later steps
// may read any path written earlier or present in the initial input; the
// order is fixed by the generator and is correctness-relevant.
type Program struct {
	Definition
	Steps []Step `json:"steps"`
}

// Parse decodes a program from JSON. Unknown operation tags fail here with a
// MalformedCandidate error; structural rules are checked by Validate.
func Parse(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &StepError{Kind: ErrMalformedCandidate, Detail: err.Error()}
	}
	return &p, nil
}

// ParseSteps decodes a bare steps array, the form the Developer and Fixer
// collaborators return.
func ParseSteps(data []byte) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, &StepError{Kind: ErrMalformedCandidate, Detail: err.Error()}
	}
	return steps, nil
}
