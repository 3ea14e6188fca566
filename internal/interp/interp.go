// Package interp executes logic programs against a document. Execution is
// single-threaded and strictly ordered: each step's evaluation reads operand
// paths through the document resolver and, only on success, writes exactly
// one value at the step's declared output path. The first failure halts the
// run; the partially mutated document survives only as diagnostic context.
package interp

import (
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
)

// State is the interpreter's terminal (or in-flight) state.
type State string

const (
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Result is the outcome of one program run. Doc is the final document on
// Completed; on Failed it is the document as mutated by the steps before the
// failing one, exposed for diagnosis only.
type Result struct {
	State State
	Doc   document.Doc
	Err   *dsl.StepError
}

// Interpreter runs programs. The zero value is usable; Logger defaults to a
// nop logger.
type Interpreter struct {
	Logger *zap.Logger
}

func (in *Interpreter) logger() *zap.Logger {
	if in == nil || in.Logger == nil {
		return zap.NewNop()
	}
	return in.Logger
}

// NewState builds the initial execution document for an input: the input
// under /inputs plus an empty /temp scratch area. Keeping the input under its
// own root lets the fallback resolver absorb programs that address input
// fields at the top level.
func NewState(input document.Doc) document.Doc {
	state := document.Doc(`{"inputs":{},"temp":{}}`)
	out, err := state.SetRaw("/inputs", string(input))
	if err != nil {
		// input was validated JSON; a failure here means a programming error
		panic("interp: building initial state: " + err.Error())
	}
	return out
}

// Run executes prog against a private copy of input. Identical program and
// input always yield the same terminal state.
func (in *Interpreter) Run(prog *dsl.Program, input document.Doc) Result {
	log := in.logger()
	state := NewState(input.Copy())

	log.Debug("executing program",
		zap.String("program", prog.Name),
		zap.Int("steps", len(prog.Steps)))

	for i := range prog.Steps {
		step := &prog.Steps[i]
		log.Debug("step", zap.String("id", step.ID), zap.String("op", string(step.Op.Kind)))

		raw, serr := eval(state, &step.Op)
		if serr != nil {
			serr.StepID = step.ID
			serr.Op = step.Op.Kind
			log.Debug("step failed", zap.String("id", step.ID), zap.String("kind", string(serr.Kind)))
			return Result{State: StateFailed, Doc: state, Err: serr}
		}

		next, err := state.SetRaw(step.OutputPath, raw)
		if err != nil {
			return Result{State: StateFailed, Doc: state, Err: &dsl.StepError{
				StepID: step.ID,
				Op:     step.Op.Kind,
				Kind:   dsl.ErrTypeMismatch,
				Detail: "cannot write output path: " + err.Error(),
			}}
		}
		state = next
	}

	return Result{State: StateCompleted, Doc: state}
}

// Run executes prog with a throwaway Interpreter. Convenience for callers
// that do not need logging.
func Run(prog *dsl.Program, input document.Doc) Result {
	return (&Interpreter{}).Run(prog, input)
}

// ProjectOutput extracts the declared output-schema properties from a
// completed run's document. Each property name is looked up at the document
// root. When the schema declares no matching properties the full document is
// returned, so the caller always has something to compare or display.
func ProjectOutput(state document.Doc, outputSchema json.RawMessage) document.Doc {
	props := parseSchemaProperties(outputSchema)
	if len(props) == 0 {
		return state
	}
	out := document.Doc(`{}`)
	matched := false
	for _, name := range props {
		res, ok := state.Get("/" + name)
		if !ok {
			continue
		}
		next, err := out.SetRaw("/"+name, res.Raw)
		if err != nil {
			continue
		}
		out = next
		matched = true
	}
	if !matched {
		return state
	}
	return out
}

// parseSchemaProperties returns the property names of a JSON schema's
// top-level "properties" object, in declaration order.
func parseSchemaProperties(schema json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}
	var wrapper struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &wrapper); err != nil || len(wrapper.Properties) == 0 {
		return nil
	}
	// Recover declaration order from the raw text so projection is stable.
	names := make([]string, 0, len(wrapper.Properties))
	for name := range wrapper.Properties {
		names = append(names, name)
	}
	text := string(schema)
	sort.Slice(names, func(i, j int) bool {
		return strings.Index(text, `"`+names[i]+`"`) < strings.Index(text, `"`+names[j]+`"`)
	})
	return names
}
