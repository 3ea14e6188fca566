// Package agents implements the generative collaborators the repair loop
// consumes: an architect proposing input/output schemas, a developer
// proposing a logic program, a QA engineer proposing test cases, and a fixer
// proposing replacement programs. Everything that touches a model (prompt
// construction, transport, response parsing, schema simplification) lives
// here, behind the narrow repair-loop contracts.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/harness"
	"github.com/dshills/microforge/internal/llm"
	"github.com/dshills/microforge/internal/profile"
	"github.com/dshills/microforge/internal/repair"
)

// Options configures a Swarm.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Profile     profile.Profile
	Logger      *zap.Logger
}

// Swarm is one provider-backed implementation of all four collaborator
// contracts. It holds no per-run state; a Swarm may serve many engine runs.
type Swarm struct {
	provider llm.Provider
	opts     Options
	log      *zap.Logger
}

// Swarm satisfies every collaborator contract.
var (
	_ repair.Architect = (*Swarm)(nil)
	_ repair.Developer = (*Swarm)(nil)
	_ repair.QA        = (*Swarm)(nil)
	_ repair.Fixer     = (*Swarm)(nil)
)

// NewSwarm builds a Swarm on the configured provider.
func NewSwarm(opts Options) (*Swarm, error) {
	provider, err := llm.NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("agents: create provider: %w", err)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Swarm{provider: provider, opts: opts, log: log}, nil
}

// definitionResponse is the wire shape of an architect response.
type definitionResponse struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
}

// ProposeSchemas asks the architect collaborator for input/output schemas.
func (s *Swarm) ProposeSchemas(ctx context.Context, request string) (*dsl.Definition, error) {
	raw, err := s.provider.Complete(ctx, architectSystemPrompt(s.opts.Profile.SystemPromptAddendum),
		request, s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("agents: architect: %w", err)
	}

	var resp definitionResponse
	if err := decodeResponse(raw, &resp); err != nil {
		return nil, fmt.Errorf("agents: architect: %w", err)
	}
	if resp.Name == "" || len(resp.InputSchema) == 0 || len(resp.OutputSchema) == 0 {
		return nil, fmt.Errorf("agents: architect: response missing name or schemas")
	}

	in, err := CleanSchema(normalizeEmbeddedJSON(resp.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("agents: architect input schema: %w", err)
	}
	out, err := CleanSchema(normalizeEmbeddedJSON(resp.OutputSchema))
	if err != nil {
		return nil, fmt.Errorf("agents: architect output schema: %w", err)
	}

	s.log.Debug("schemas proposed", zap.String("app", resp.Name))
	return &dsl.Definition{
		Name:         resp.Name,
		Description:  resp.Description,
		InputSchema:  in,
		OutputSchema: out,
	}, nil
}

// ProposeProgram asks the developer collaborator for an initial program. The
// returned program has not been structurally validated; that judgment belongs
// to the repair loop so a malformed draft consumes an attempt.
func (s *Swarm) ProposeProgram(ctx context.Context, def *dsl.Definition) (*dsl.Program, error) {
	raw, err := s.provider.Complete(ctx, developerSystemPrompt(s.opts.Profile.SystemPromptAddendum),
		developerUserPrompt(def), s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("agents: developer: %w", err)
	}
	steps, err := parseSteps(raw)
	if err != nil {
		return nil, fmt.Errorf("agents: developer: %w", err)
	}
	s.log.Debug("program proposed", zap.Int("steps", len(steps)))
	return &dsl.Program{Definition: *def, Steps: steps}, nil
}

// caseResponse is the wire shape of one QA test case.
type caseResponse struct {
	Name          string          `json:"name"`
	Input         json.RawMessage `json:"input"`
	Expected      json.RawMessage `json:"expected"`
	ExpectFailure bool            `json:"expect_failure"`
}

// ProposeTestCases asks the QA collaborator for the fixed test case list.
// Stringified inputs are unwrapped and every case gets a stable id.
func (s *Swarm) ProposeTestCases(ctx context.Context, def *dsl.Definition) ([]harness.Case, error) {
	raw, err := s.provider.Complete(ctx, qaPrompt, qaUserPrompt(def),
		s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("agents: qa: %w", err)
	}

	var resp []caseResponse
	if err := decodeResponse(raw, &resp); err != nil {
		return nil, fmt.Errorf("agents: qa: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("agents: qa: response contained no test cases")
	}

	cases := make([]harness.Case, len(resp))
	for i, c := range resp {
		cases[i] = harness.Case{
			ID:            fmt.Sprintf("CASE-%d", i+1),
			Name:          c.Name,
			Input:         normalizeEmbeddedJSON(c.Input),
			Expected:      normalizeEmbeddedJSON(c.Expected),
			ExpectFailure: c.ExpectFailure,
		}
		if len(cases[i].Input) == 0 {
			return nil, fmt.Errorf("agents: qa: case %d has no input", i+1)
		}
	}
	s.log.Debug("test cases proposed", zap.Int("cases", len(cases)))
	return cases, nil
}

// ProposeFix asks the fixer collaborator for a full replacement program. The
// replacement keeps the failed program's definition; only the steps change.
func (s *Swarm) ProposeFix(ctx context.Context, prog *dsl.Program, report *repair.ErrorReport) (*dsl.Program, error) {
	raw, err := s.provider.Complete(ctx, fixerPrompt+"\n\n"+opsReference,
		fixerUserPrompt(prog, report), s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("agents: fixer: %w", err)
	}
	steps, err := parseSteps(raw)
	if err != nil {
		return nil, fmt.Errorf("agents: fixer: %w", err)
	}
	s.log.Debug("fix proposed", zap.Int("steps", len(steps)))
	return &dsl.Program{Definition: prog.Definition, Steps: steps}, nil
}

// parseSteps decodes a steps array from a sanitized model response.
func parseSteps(raw string) ([]dsl.Step, error) {
	var cleaned json.RawMessage
	if err := decodeResponse(raw, &cleaned); err != nil {
		return nil, err
	}
	return dsl.ParseSteps(cleaned)
}
