package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/repair"
)

// architectPrompt instructs the schema-design collaborator.
const architectPrompt = `You are a senior data architect.
Define the structure of a new application from the user's request.

Output ONLY valid JSON with this shape (no prose, no markdown):
{
  "name": "snake_case_app_name",
  "description": "one sentence",
  "input_schema": { ...standard JSON Schema object... },
  "output_schema": { ...standard JSON Schema object... }
}

Both schemas must be JSON Schema objects with a top-level "type": "object"
and a "properties" map. Name properties exactly as the request names them.`

// qaPrompt instructs the test-design collaborator.
const qaPrompt = `You are a QA engineer.
Generate 3 diverse test cases: a happy path, an edge case, and a complex case.

Output ONLY a JSON array (no prose, no markdown):
[
  {
    "name": "happy_path",
    "input": { ...an object matching the input schema exactly... },
    "expected": { ...the output the program must produce, or omit if unsure... }
  }
]

Rules:
1. "input" MUST be a JSON object matching the input schema, never a string.
2. Only include "expected" when you can compute the exact output by hand.
3. A case that must fail (e.g. division by zero in the data) sets
   "expect_failure": true instead of "expected".`

// fixerPrompt instructs the repair collaborator.
const fixerPrompt = `You are a senior debugger.
A JSON logic program failed its tests. Analyze the error report, find the
bug, and rewrite the program.

Output ONLY the complete corrected JSON array of steps (no prose, no
markdown). Return every step, not just the changed ones.`

// opsReference documents the closed operation set for the developer and
// fixer prompts. It is maintained by hand so the wording stays model-friendly;
// dsl.Validate is the enforcement, this is the documentation.
const opsReference = `Each step is:
{"id": "unique_snake_case", "description": "...", "operation": {...}, "output_path": "/absolute/path"}

Operations (select exactly one "op" per step):
- {"op":"get","path":"/inputs/x"}                      read a value
- {"op":"constant","value":123}                        embed a scalar literal
- {"op":"pluck","path":"/inputs/items","key":"price"}  field from each object in a list
- {"op":"add","a":"/x","b":"/y"}                       also: subtract, multiply, divide
- {"op":"calculate","list_path":"/inputs/items","output_field":"profit","operator":"subtract","a_field":"revenue","b_field":"costs"}
                                                        per-element math; a_field/b_field may be
                                                        element fields or absolute /paths
- {"op":"sum","list_path":"/temp/values"}              also: min, max; optional "field" for
                                                        lists of objects
- {"op":"count","list_path":"/inputs/items"}           array length
- {"op":"index","list_path":"/temp/sorted","index":0}  element at a position
- {"op":"filter_numeric","list_path":"/inputs/items","field":"price","operator":"gt","value":10}
                                                        operators: gt, lt, eq, gte, lte
- {"op":"sort","list_path":"/inputs/items","field":"price","descending":true}
- {"op":"format_string","template":"Total: {total}","variables":[{"key":"total","path":"/total"}]}

Rules:
1. Arithmetic operands "a" and "b" MUST be path strings. To use a literal
   number, write a constant step first and reference its output path.
2. Input fields live under /inputs (e.g. /inputs/projects). Write scratch
   values under /temp and final outputs at the root (e.g. /total_profit)
   named exactly as the output schema names them.
3. format_string "variables" must be an array of {"key","path"} objects.
4. Steps run in order; a step may read any path written by an earlier step.`

// developerSystemPrompt assembles the full system prompt for program drafting.
func developerSystemPrompt(addendum string) string {
	var sb strings.Builder
	sb.WriteString("You are a backend logic developer.\n")
	sb.WriteString("Write a JSON logic program that transforms the input to the output.\n\n")
	sb.WriteString("Output ONLY the JSON array of steps (no prose, no markdown).\n\n")
	sb.WriteString(opsReference)
	if addendum != "" {
		sb.WriteString("\n\n")
		sb.WriteString(addendum)
	}
	return sb.String()
}

// architectSystemPrompt assembles the schema-design system prompt.
func architectSystemPrompt(addendum string) string {
	if addendum == "" {
		return architectPrompt
	}
	return architectPrompt + "\n\n" + addendum
}

// developerUserPrompt renders the drafting request.
func developerUserPrompt(def *dsl.Definition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "App name: %s\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", def.Description)
	}
	fmt.Fprintf(&sb, "Input schema:\n%s\n\nOutput schema:\n%s\n\nGenerate the logic.",
		indentJSON(def.InputSchema), indentJSON(def.OutputSchema))
	return sb.String()
}

// qaUserPrompt renders the test-generation request.
func qaUserPrompt(def *dsl.Definition) string {
	return fmt.Sprintf("Input schema:\n%s\n\nOutput schema:\n%s\n\nGenerate 3 diverse test cases.",
		indentJSON(def.InputSchema), indentJSON(def.OutputSchema))
}

// fixerUserPrompt renders the repair request: the failing program and the
// complete error report.
func fixerUserPrompt(prog *dsl.Program, report *repair.ErrorReport) string {
	steps, _ := json.MarshalIndent(prog.Steps, "", "  ")
	var sb strings.Builder
	fmt.Fprintf(&sb, "App name: %s\n", prog.Name)
	fmt.Fprintf(&sb, "Input schema:\n%s\n\n", indentJSON(prog.InputSchema))
	fmt.Fprintf(&sb, "Current steps:\n%s\n\n", steps)
	fmt.Fprintf(&sb, "Error report:\n%s\n", report.Text())
	sb.WriteString("\nReturn the FIXED complete steps array.")
	return sb.String()
}

// indentJSON pretty-prints a raw JSON fragment for prompt embedding, falling
// back to the raw text when it does not parse.
func indentJSON(raw json.RawMessage) string {
	var buf strings.Builder
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimRight(buf.String(), "\n")
}
