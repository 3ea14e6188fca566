// Package harness runs a candidate program against a fixed set of test
// cases and aggregates per-case outcomes. Cases are independent: each run
// interprets against a private copy of the case input, so cases execute
// concurrently with no shared mutable state. Every failing outcome is
// reported, not just the first, to maximize diagnostic signal per repair
// attempt.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/interp"
)

// Case is one (input, expectation) pair. Expected is the output document a
// completed run must match; ExpectFailure marks a case that must fail, with
// FailureKind optionally pinning the expected error kind. Cases are
// read-only to the core.
type Case struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Input         json.RawMessage `json:"input"`
	Expected      json.RawMessage `json:"expected,omitempty"`
	ExpectFailure bool            `json:"expect_failure,omitempty"`
	FailureKind   dsl.ErrorKind   `json:"failure_kind,omitempty"`
}

// Outcome is the immutable result of running one case.
type Outcome struct {
	CaseID  string         `json:"case_id"`
	Name    string         `json:"name,omitempty"`
	Passed  bool           `json:"passed"`
	StepErr *dsl.StepError `json:"step_error,omitempty"`
	// Reason explains a failure that is not a step error: a value mismatch
	// (with a structural diff) or an unmet expected-failure marker.
	Reason string `json:"reason,omitempty"`
}

// Report aggregates the outcomes of one harness run, in case order.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// AllPassed reports whether every outcome passed.
func (r *Report) AllPassed() bool {
	for _, o := range r.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Failing returns the failing outcomes in case order.
func (r *Report) Failing() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Passed {
			out = append(out, o)
		}
	}
	return out
}

// Text renders the failing outcomes as the compact error report shown to the
// fixer collaborator: one line per failure with step id, operation kind, and
// error kind.
func (r *Report) Text() string {
	var sb strings.Builder
	for _, o := range r.Failing() {
		fmt.Fprintf(&sb, "test %q failed: ", o.Name)
		if o.StepErr != nil {
			sb.WriteString(o.StepErr.Error())
		} else {
			sb.WriteString(o.Reason)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Run executes prog against every case, at most parallel cases at a time
// (parallel < 1 means sequential). The only error it returns is context
// cancellation; per-case failures are outcomes, never errors. Interpreter
// errors do not escape the harness boundary.
func Run(ctx context.Context, prog *dsl.Program, cases []Case, parallel int) (*Report, error) {
	if parallel < 1 {
		parallel = 1
	}
	outcomes := make([]Outcome, len(cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range cases {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			outcomes[i] = runCase(prog, &cases[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	return &Report{Outcomes: outcomes}, nil
}

// runCase interprets the program against one case's private input copy and
// judges the terminal state against the case's expectation.
func runCase(prog *dsl.Program, c *Case) Outcome {
	out := Outcome{CaseID: c.ID, Name: c.Name}

	input, err := document.FromJSON(c.Input)
	if err != nil {
		out.Reason = fmt.Sprintf("case input is not valid JSON: %v", err)
		return out
	}

	res := interp.Run(prog, input)
	switch res.State {
	case interp.StateFailed:
		if !c.ExpectFailure {
			out.StepErr = res.Err
			return out
		}
		if c.FailureKind != "" && res.Err.Kind != c.FailureKind {
			out.StepErr = res.Err
			out.Reason = fmt.Sprintf("expected failure kind %s, got %s", c.FailureKind, res.Err.Kind)
			return out
		}
		out.Passed = true
		return out

	case interp.StateCompleted:
		if c.ExpectFailure {
			out.Reason = "expected the program to fail, but it completed"
			return out
		}
		if len(c.Expected) == 0 {
			out.Passed = true // completion alone satisfies cases without an expected document
			return out
		}
		got := interp.ProjectOutput(res.Doc, prog.OutputSchema)
		want := document.Doc(c.Expected)
		if !document.Equal(want, got) {
			out.Reason = "output mismatch (-want +got):\n" + document.Diff(want, got)
			return out
		}
		out.Passed = true
		return out
	}

	out.Reason = fmt.Sprintf("unexpected interpreter state %q", res.State)
	return out
}
