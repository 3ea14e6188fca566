// Package repair drives the draft/test/fix state machine: it requests a
// candidate program from the generative collaborators, tests it against a
// fixed case list, and cycles failed candidates through the fixer under a
// bounded attempt budget until the program is verified or abandoned. The
// collaborators are consumed only through narrow request/response contracts;
// every call runs under a per-call timeout, and a timed-out or malformed
// response consumes one attempt without reaching the test harness.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/harness"
)

// Phase is one state of the repair state machine. Deployed and Abandoned are
// terminal; every transition is total, including timeout and
// malformed-candidate outcomes.
type Phase string

const (
	PhaseDrafting  Phase = "DRAFTING"
	PhaseTesting   Phase = "TESTING"
	PhaseRepairing Phase = "REPAIRING"
	PhaseDeployed  Phase = "DEPLOYED"
	PhaseAbandoned Phase = "ABANDONED"
)

// Collaborator contracts. Implementations are external and non-deterministic;
// the engine never sees their transport, only these blocking calls.

// Architect proposes input/output schemas for a request. Invoked once,
// upstream of drafting.
type Architect interface {
	ProposeSchemas(ctx context.Context, request string) (*dsl.Definition, error)
}

// Developer proposes the initial program. Invoked once, at drafting.
type Developer interface {
	ProposeProgram(ctx context.Context, def *dsl.Definition) (*dsl.Program, error)
}

// QA proposes the test case list. Invoked exactly once, before the first
// testing pass; the result is reused unchanged for every attempt so fixes
// are judged against a fixed target.
type QA interface {
	ProposeTestCases(ctx context.Context, def *dsl.Definition) ([]harness.Case, error)
}

// Fixer proposes a full replacement program for a failed one. Invoked once
// per failed attempt. Failed programs are replaced wholesale, never patched.
type Fixer interface {
	ProposeFix(ctx context.Context, prog *dsl.Program, report *ErrorReport) (*dsl.Program, error)
}

// ErrorReport is what the fixer sees after a failed attempt: the complete
// ordered list of failing outcomes, or a note describing a pre-harness
// failure (structural validation, collaborator timeout).
type ErrorReport struct {
	Outcomes []harness.Outcome `json:"outcomes,omitempty"`
	Note     string            `json:"note,omitempty"`
}

// Text renders the report for prompt embedding and CLI display.
func (r *ErrorReport) Text() string {
	if r == nil {
		return ""
	}
	if r.Note != "" {
		return r.Note
	}
	return (&harness.Report{Outcomes: r.Outcomes}).Text()
}

// Attempt records one entry of the bounded attempt sequence: the candidate
// program and the error report it earned. Number 0 is the initial draft;
// numbers 1..MaxAttempts are repair cycles. Report is nil for the attempt
// that deployed.
type Attempt struct {
	Number  int          `json:"number"`
	Program *dsl.Program `json:"program"`
	Report  *ErrorReport `json:"report,omitempty"`
}

// Status is the terminal state of one engine run.
type Status string

const (
	StatusDeployed  Status = "DEPLOYED"
	StatusAbandoned Status = "ABANDONED"
)

// Result carries the artifacts exposed for external inspection: on Deployed,
// the final program plus its test case list; on Abandoned, the complete
// attempt history for diagnosis. Nothing persists across runs.
type Result struct {
	RunID    string         `json:"run_id"`
	Status   Status         `json:"status"`
	Attempts int            `json:"attempts"`
	Program  *dsl.Program   `json:"program"`
	Cases    []harness.Case `json:"cases"`
	History  []Attempt      `json:"history,omitempty"`
}

// Engine owns one repair loop. The loop is sequential and single-flight: one
// candidate is tested at a time, and collaborator calls are blocking
// suspension points with no concurrent attempts for one request.
type Engine struct {
	Architect Architect
	Developer Developer
	QA        QA
	Fixer     Fixer

	// MaxAttempts bounds the number of fixer cycles. Zero or negative
	// disables repair entirely (the draft must pass on the first test).
	MaxAttempts int
	// CallTimeout bounds each collaborator call; zero means no timeout.
	CallTimeout time.Duration
	// Parallel bounds concurrent case runs inside one testing pass.
	Parallel int

	Logger *zap.Logger
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// callCtx derives the per-call context for one collaborator invocation.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.CallTimeout)
}

// Run executes the full pipeline for one request. It returns an error only
// when the run cannot produce a defined terminal state: architect, drafting,
// or QA transport failure, or cancellation of ctx itself. Once a candidate
// and case list exist, the outcome is always Deployed or Abandoned.
func (e *Engine) Run(ctx context.Context, request string) (*Result, error) {
	runID := uuid.NewString()
	log := e.logger().With(zap.String("run_id", runID))

	def, err := e.proposeSchemas(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("repair: architect: %w", err)
	}
	log.Info("schemas proposed", zap.String("app", def.Name))

	log.Info("phase transition", zap.String("phase", string(PhaseDrafting)))
	prog, err := e.proposeProgram(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("repair: developer: %w", err)
	}
	log.Info("program drafted", zap.Int("steps", len(prog.Steps)))

	// The case list is generated exactly once and reused unchanged across
	// all attempts, so fixes are judged against a fixed target.
	cases, err := e.proposeCases(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("repair: qa: %w", err)
	}
	log.Info("test cases generated", zap.Int("cases", len(cases)))

	result := &Result{RunID: runID, Status: StatusAbandoned, Cases: cases}

	log.Info("phase transition", zap.String("phase", string(PhaseTesting)))
	report, err := e.evaluate(ctx, prog, cases)
	if err != nil {
		return nil, err
	}
	result.History = append(result.History, Attempt{Number: 0, Program: prog, Report: report})
	if report == nil {
		log.Info("phase transition", zap.String("phase", string(PhaseDeployed)), zap.Int("attempts", 0))
		result.Status, result.Program = StatusDeployed, prog
		return result, nil
	}

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		log.Info("phase transition",
			zap.String("phase", string(PhaseRepairing)),
			zap.Int("attempt", attempt))

		next, err := e.proposeFix(ctx, prog, report)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("repair: fixer: %w", err)
			}
			// A timed-out or failed call abandons this attempt, not the
			// loop; the previous report stands for the next cycle.
			log.Warn("fixer call failed", zap.Int("attempt", attempt), zap.Error(err))
			result.History = append(result.History, Attempt{
				Number:  attempt,
				Program: prog,
				Report:  &ErrorReport{Note: fmt.Sprintf("fixer call failed: %v", err)},
			})
			result.Attempts = attempt
			continue
		}
		prog = next

		log.Info("phase transition", zap.String("phase", string(PhaseTesting)), zap.Int("attempt", attempt))
		report, err = e.evaluate(ctx, prog, cases)
		if err != nil {
			return nil, err
		}
		result.History = append(result.History, Attempt{Number: attempt, Program: prog, Report: report})
		result.Attempts = attempt

		if report == nil {
			log.Info("phase transition",
				zap.String("phase", string(PhaseDeployed)),
				zap.Int("attempts", attempt))
			result.Status, result.Program = StatusDeployed, prog
			return result, nil
		}
	}

	log.Warn("phase transition",
		zap.String("phase", string(PhaseAbandoned)),
		zap.Int("attempts", result.Attempts))
	result.Program = prog
	return result, nil
}

// evaluate validates and tests one candidate. A nil report means all cases
// passed. A structurally invalid candidate yields a MalformedCandidate
// report without reaching the harness. The only error is cancellation.
func (e *Engine) evaluate(ctx context.Context, prog *dsl.Program, cases []harness.Case) (*ErrorReport, error) {
	if verr := dsl.Validate(prog); verr != nil {
		return &ErrorReport{Note: "candidate failed structural validation: " + verr.Error()}, nil
	}
	rep, err := harness.Run(ctx, prog, cases, e.Parallel)
	if err != nil {
		return nil, err
	}
	if rep.AllPassed() {
		return nil, nil
	}
	return &ErrorReport{Outcomes: rep.Failing()}, nil
}

func (e *Engine) proposeSchemas(ctx context.Context, request string) (*dsl.Definition, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.Architect.ProposeSchemas(cctx, request)
}

func (e *Engine) proposeProgram(ctx context.Context, def *dsl.Definition) (*dsl.Program, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.Developer.ProposeProgram(cctx, def)
}

func (e *Engine) proposeCases(ctx context.Context, def *dsl.Definition) ([]harness.Case, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.QA.ProposeTestCases(cctx, def)
}

func (e *Engine) proposeFix(ctx context.Context, prog *dsl.Program, report *ErrorReport) (*dsl.Program, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.Fixer.ProposeFix(cctx, prog, report)
}
