package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
	"github.com/dshills/microforge/internal/harness"
	"github.com/dshills/microforge/internal/interp"
)

func TestLoadProgram_Artifact(t *testing.T) {
	prog, err := loadProgram("../../testdata/profitability/program.json")
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if prog.Name != "project_profitability" {
		t.Errorf("name = %q", prog.Name)
	}
	if len(prog.Steps) != 4 {
		t.Errorf("steps = %d, want 4", len(prog.Steps))
	}
	if verr := dsl.Validate(prog); verr != nil {
		t.Errorf("saved program fails validation: %v", verr)
	}
}

func TestLoadProgram_BareProgram(t *testing.T) {
	path := t.TempDir() + "/bare.json"
	bare := `{"name":"bare","steps":[
		{"id":"s1","operation":{"op":"get","path":"/inputs/x"},"output_path":"/x"}
	]}`
	if err := os.WriteFile(path, []byte(bare), 0o644); err != nil {
		t.Fatal(err)
	}
	prog, err := loadProgram(path)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if prog.Name != "bare" || len(prog.Steps) != 1 {
		t.Errorf("program = %+v", prog)
	}
}

func TestLoadProgram_Missing(t *testing.T) {
	if _, err := loadProgram(t.TempDir() + "/nope.json"); err == nil {
		t.Fatal("loadProgram succeeded on a missing file")
	}
}

func TestSavedProgram_PassesItsOwnCases(t *testing.T) {
	b, err := os.ReadFile("../../testdata/profitability/program.json")
	if err != nil {
		t.Fatal(err)
	}
	var artifact programArtifact
	if err := json.Unmarshal(b, &artifact); err != nil {
		t.Fatal(err)
	}
	var cases []harness.Case
	if err := json.Unmarshal(artifact.Cases, &cases); err != nil {
		t.Fatal(err)
	}

	report, err := harness.Run(context.Background(), artifact.Program, cases, 2)
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	if !report.AllPassed() {
		t.Fatalf("failing outcomes: %+v", report.Failing())
	}
}

func TestSavedProgram_RunsSampleInput(t *testing.T) {
	prog, err := loadProgram("../../testdata/profitability/program.json")
	if err != nil {
		t.Fatal(err)
	}
	inputBytes, err := os.ReadFile("../../testdata/profitability/input.json")
	if err != nil {
		t.Fatal(err)
	}
	input, err := document.FromJSON(inputBytes)
	if err != nil {
		t.Fatal(err)
	}

	res := interp.Run(prog, input)
	if res.State != interp.StateCompleted {
		t.Fatalf("run failed: %v", res.Err)
	}
	out := interp.ProjectOutput(res.Doc, prog.OutputSchema)
	want := document.Doc(`{
		"total_profit": 450,
		"best_project_profit": 600,
		"summary": "Total profit 450, best project 600"
	}`)
	if !document.Equal(want, out) {
		t.Errorf("output mismatch:\n%s", document.Diff(want, out))
	}
}
