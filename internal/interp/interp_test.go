package interp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
)

func step(id string, op dsl.Operation, out string) dsl.Step {
	return dsl.Step{ID: id, Op: op, OutputPath: out}
}

func prog(steps ...dsl.Step) *dsl.Program {
	return &dsl.Program{Definition: dsl.Definition{Name: "test"}, Steps: steps}
}

func mustCompleted(t *testing.T, r Result) document.Doc {
	t.Helper()
	if r.State != StateCompleted {
		t.Fatalf("run failed: %v", r.Err)
	}
	return r.Doc
}

func mustFailed(t *testing.T, r Result, kind dsl.ErrorKind) *dsl.StepError {
	t.Helper()
	if r.State != StateFailed {
		t.Fatalf("run state = %s, want FAILED", r.State)
	}
	if r.Err == nil {
		t.Fatal("failed run carries no error")
	}
	if r.Err.Kind != kind {
		t.Fatalf("error kind = %s, want %s: %v", r.Err.Kind, kind, r.Err)
	}
	return r.Err
}

func getNum(t *testing.T, d document.Doc, path string) float64 {
	t.Helper()
	res, ok := d.Get(path)
	if !ok {
		t.Fatalf("path %q not in document %s", path, d)
	}
	return res.Num
}

func TestRun_GetWithFallback(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpGet, Path: "/x"}, "/temp/x"))
	d := mustCompleted(t, Run(p, document.Doc(`{"x":5}`)))
	if v := getNum(t, d, "/temp/x"); v != 5 {
		t.Errorf("/temp/x = %v, want 5", v)
	}
}

func TestRun_GetMissingPath(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpGet, Path: "/missing"}, "/temp/x"))
	err := mustFailed(t, Run(p, document.Doc(`{"x":5}`)), dsl.ErrPathNotFound)
	if err.StepID != "s1" || err.Op != dsl.OpGet {
		t.Errorf("error attribution = %q/%s, want s1/get", err.StepID, err.Op)
	}
	if !strings.Contains(err.Detail, "/missing") {
		t.Errorf("error does not name the missing path: %s", err.Detail)
	}
}

func TestRun_Deterministic(t *testing.T) {
	p := prog(
		step("s1", dsl.Operation{Kind: dsl.OpConstant, Value: 3.0}, "/temp/a"),
		step("s2", dsl.Operation{Kind: dsl.OpMultiply, A: "/temp/a", B: "/x"}, "/product"),
	)
	input := document.Doc(`{"x":7}`)
	first := mustCompleted(t, Run(p, input))
	for i := 0; i < 5; i++ {
		again := mustCompleted(t, Run(p, input))
		if !document.Equal(first, again) {
			t.Fatalf("run %d diverged:\n%s", i, document.Diff(first, again))
		}
	}
}

func TestRun_InputNotMutated(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpConstant, Value: 1.0}, "/inputs/x"))
	input := document.Doc(`{"x":5}`)
	mustCompleted(t, Run(p, input))
	if input.String() != `{"x":5}` {
		t.Errorf("caller's input mutated: %s", input)
	}
}

func TestRun_FailedStepWritesNothing(t *testing.T) {
	// s2 fails after resolving a but before any write; /temp must hold only
	// s1's value and no trace of s2.
	p := prog(
		step("s1", dsl.Operation{Kind: dsl.OpConstant, Value: 10.0}, "/temp/a"),
		step("s2", dsl.Operation{Kind: dsl.OpDivide, A: "/temp/a", B: "/zero"}, "/temp/ratio"),
	)
	r := Run(p, document.Doc(`{"zero":0}`))
	mustFailed(t, r, dsl.ErrDivisionByZero)
	if _, ok := r.Doc.Get("/temp/ratio"); ok {
		t.Error("failing step left a partial write at its output path")
	}
	if v := getNum(t, r.Doc, "/temp/a"); v != 10 {
		t.Errorf("earlier step's write lost: /temp/a = %v", v)
	}
}

func TestRun_DivisionByZeroNeverInf(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpDivide, A: "/a", B: "/b"}, "/r"))
	r := Run(p, document.Doc(`{"a":1,"b":0}`))
	mustFailed(t, r, dsl.ErrDivisionByZero)
	if strings.Contains(r.Doc.String(), "Inf") || strings.Contains(r.Doc.String(), "NaN") {
		t.Errorf("non-finite value leaked into document: %s", r.Doc)
	}
}

func TestRun_Arithmetic(t *testing.T) {
	tests := []struct {
		kind dsl.OpKind
		want float64
	}{
		{dsl.OpAdd, 10},
		{dsl.OpSubtract, 6},
		{dsl.OpMultiply, 16},
		{dsl.OpDivide, 4},
	}
	for _, tt := range tests {
		p := prog(step("s1", dsl.Operation{Kind: tt.kind, A: "/a", B: "/b"}, "/r"))
		d := mustCompleted(t, Run(p, document.Doc(`{"a":8,"b":2}`)))
		if v := getNum(t, d, "/r"); v != tt.want {
			t.Errorf("%s(8,2) = %v, want %v", tt.kind, v, tt.want)
		}
	}
}

func TestRun_ArithmeticTypeMismatch(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpAdd, A: "/a", B: "/b"}, "/r"))
	mustFailed(t, Run(p, document.Doc(`{"a":1,"b":"two"}`)), dsl.ErrTypeMismatch)
}

func TestRun_Pluck(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpPluck, Path: "/rows", Key: "v"}, "/vs"))
	d := mustCompleted(t, Run(p, document.Doc(`{"rows":[{"v":1},{"other":9},{"v":3}]}`)))
	res, _ := d.Get("/vs")
	if res.Raw != `[1,null,3]` {
		t.Errorf("pluck = %s, want [1,null,3] (missing keys become null)", res.Raw)
	}
}

func TestRun_Calculate(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpCalculate, ListPath: "/rows",
		OutputField: "margin", Operator: "subtract", AField: "revenue", BField: "cost",
	}, "/temp/rows"))
	d := mustCompleted(t, Run(p, document.Doc(`{"rows":[{"revenue":10,"cost":3},{"revenue":5,"cost":7}]}`)))
	if v := getNum(t, d, "/temp/rows/0/margin"); v != 7 {
		t.Errorf("first margin = %v, want 7", v)
	}
	if v := getNum(t, d, "/temp/rows/1/margin"); v != -2 {
		t.Errorf("second margin = %v, want -2", v)
	}
	// input rows stay untouched
	if _, ok := d.Get("/inputs/rows/0/margin"); ok {
		t.Error("calculate mutated the source list")
	}
}

func TestRun_CalculateAbsolutePathOperand(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpCalculate, ListPath: "/rows",
		OutputField: "scaled", Operator: "multiply", AField: "v", BField: "/factor",
	}, "/temp/rows"))
	d := mustCompleted(t, Run(p, document.Doc(`{"factor":10,"rows":[{"v":2}]}`)))
	if v := getNum(t, d, "/temp/rows/0/scaled"); v != 20 {
		t.Errorf("scaled = %v, want 20", v)
	}
}

func TestRun_CalculateDivisionByZeroElement(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpCalculate, ListPath: "/rows",
		OutputField: "r", Operator: "divide", AField: "a", BField: "b",
	}, "/temp/rows"))
	mustFailed(t, Run(p, document.Doc(`{"rows":[{"a":1,"b":0}]}`)), dsl.ErrDivisionByZero)
}

func TestRun_Aggregates(t *testing.T) {
	input := document.Doc(`{"rows":[{"v":4},{"v":1},{"v":9}]}`)
	tests := []struct {
		kind dsl.OpKind
		want float64
	}{
		{dsl.OpSum, 14},
		{dsl.OpMin, 1},
		{dsl.OpMax, 9},
	}
	for _, tt := range tests {
		p := prog(step("s1", dsl.Operation{Kind: tt.kind, ListPath: "/rows", Field: "v"}, "/r"))
		d := mustCompleted(t, Run(p, input))
		if v := getNum(t, d, "/r"); v != tt.want {
			t.Errorf("%s = %v, want %v", tt.kind, v, tt.want)
		}
	}
}

func TestRun_AggregateBareNumbers(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSum, ListPath: "/xs"}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[1,2,3]}`)))
	if v := getNum(t, d, "/r"); v != 6 {
		t.Errorf("sum = %v, want 6", v)
	}
}

func TestRun_SumEmptyIsZero(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSum, ListPath: "/xs"}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[]}`)))
	if v := getNum(t, d, "/r"); v != 0 {
		t.Errorf("sum of empty = %v, want 0", v)
	}
}

func TestRun_MinMaxEmptyFails(t *testing.T) {
	for _, kind := range []dsl.OpKind{dsl.OpMin, dsl.OpMax} {
		p := prog(step("s1", dsl.Operation{Kind: kind, ListPath: "/xs"}, "/r"))
		mustFailed(t, Run(p, document.Doc(`{"xs":[]}`)), dsl.ErrEmptyAggregate)
	}
}

func TestRun_AggregateNonNumericElement(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSum, ListPath: "/xs"}, "/r"))
	mustFailed(t, Run(p, document.Doc(`{"xs":[1,"two",3]}`)), dsl.ErrTypeMismatch)
}

func TestRun_CountEmptyIsZero(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpCount, ListPath: "/xs"}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[]}`)))
	if v := getNum(t, d, "/r"); v != 0 {
		t.Errorf("count of empty = %v, want 0", v)
	}
}

func TestRun_Index(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpIndex, ListPath: "/xs", Index: 1}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[10,20,30]}`)))
	if v := getNum(t, d, "/r"); v != 20 {
		t.Errorf("index 1 = %v, want 20", v)
	}
}

func TestRun_IndexOutOfBounds(t *testing.T) {
	for _, idx := range []int{3, -1} {
		p := prog(step("s1", dsl.Operation{Kind: dsl.OpIndex, ListPath: "/xs", Index: idx}, "/r"))
		mustFailed(t, Run(p, document.Doc(`{"xs":[10,20,30]}`)), dsl.ErrIndexOutOfBounds)
	}
}

func TestRun_FilterNumeric(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpFilterNumeric, ListPath: "/rows", Field: "v", Operator: dsl.CmpGt, FilterValue: 2,
	}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"rows":[{"v":1},{"v":3},{"v":5}]}`)))
	res, _ := d.Get("/r")
	if res.Raw != `[{"v":3},{"v":5}]` {
		t.Errorf("filter gt 2 = %s", res.Raw)
	}
}

func TestRun_FilterSkipsNonNumeric(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpFilterNumeric, ListPath: "/xs", Operator: dsl.CmpGte, FilterValue: 0,
	}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[1,"two",3]}`)))
	res, _ := d.Get("/r")
	if res.Raw != `[1,3]` {
		t.Errorf("filter = %s, want [1,3] (non-numeric dropped, not an error)", res.Raw)
	}
}

func TestRun_FilterEqTolerance(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpFilterNumeric, ListPath: "/xs", Operator: dsl.CmpEq, FilterValue: 0.3,
	}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[0.30000000000000004,0.4]}`)))
	res, _ := d.Get("/r")
	if res.Raw != `[0.30000000000000004]` {
		t.Errorf("eq filter = %s", res.Raw)
	}
}

func TestRun_FilterEmptyResult(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpFilterNumeric, ListPath: "/xs", Operator: dsl.CmpGt, FilterValue: 100,
	}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"xs":[1,2]}`)))
	res, _ := d.Get("/r")
	if res.Raw != `[]` {
		t.Errorf("empty filter result = %s, want []", res.Raw)
	}
}

func TestRun_SortAscending(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSort, ListPath: "/rows", Field: "v"}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{"rows":[{"v":3},{"v":1},{"v":2}]}`)))
	res, _ := d.Get("/r")
	if res.Raw != `[{"v":1},{"v":2},{"v":3}]` {
		t.Errorf("ascending sort = %s", res.Raw)
	}
}

func TestRun_SortStableTies(t *testing.T) {
	input := document.Doc(`{"rows":[{"v":1,"tag":"a"},{"v":1,"tag":"b"},{"v":0,"tag":"c"}]}`)

	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSort, ListPath: "/rows", Field: "v"}, "/r"))
	d := mustCompleted(t, Run(p, input))
	res, _ := d.Get("/r")
	if res.Raw != `[{"v":0,"tag":"c"},{"v":1,"tag":"a"},{"v":1,"tag":"b"}]` {
		t.Errorf("ascending ties reordered: %s", res.Raw)
	}

	p = prog(step("s1", dsl.Operation{Kind: dsl.OpSort, ListPath: "/rows", Field: "v", Descending: true}, "/r"))
	d = mustCompleted(t, Run(p, input))
	res, _ = d.Get("/r")
	if res.Raw != `[{"v":1,"tag":"a"},{"v":1,"tag":"b"},{"v":0,"tag":"c"}]` {
		t.Errorf("descending ties reordered: %s", res.Raw)
	}
}

func TestRun_SortNonNumericKeyFails(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpSort, ListPath: "/rows", Field: "v"}, "/r"))
	mustFailed(t, Run(p, document.Doc(`{"rows":[{"v":"high"}]}`)), dsl.ErrTypeMismatch)
}

func TestRun_FormatString(t *testing.T) {
	p := prog(
		step("s1", dsl.Operation{Kind: dsl.OpConstant, Value: 42.5}, "/temp/total"),
		step("s2", dsl.Operation{
			Kind:     dsl.OpFormatString,
			Template: "{name} earned {total}",
			Variables: []dsl.Variable{
				{Key: "name", Path: "/name"},
				{Key: "total", Path: "/temp/total"},
			},
		}, "/summary"),
	)
	d := mustCompleted(t, Run(p, document.Doc(`{"name":"Acme"}`)))
	res, ok := d.Get("/summary")
	if !ok || res.Str != "Acme earned 42.5" {
		t.Errorf("summary = %q, want %q", res.Str, "Acme earned 42.5")
	}
}

func TestRun_FormatStringMissingVariable(t *testing.T) {
	p := prog(step("s1", dsl.Operation{
		Kind: dsl.OpFormatString, Template: "{x}",
		Variables: []dsl.Variable{{Key: "x", Path: "/nowhere"}},
	}, "/r"))
	mustFailed(t, Run(p, document.Doc(`{}`)), dsl.ErrPathNotFound)
}

func TestRun_ConstantNull(t *testing.T) {
	p := prog(step("s1", dsl.Operation{Kind: dsl.OpConstant, Value: nil}, "/r"))
	d := mustCompleted(t, Run(p, document.Doc(`{}`)))
	res, ok := d.Get("/r")
	if !ok || res.Raw != "null" {
		t.Errorf("null constant = %s", res.Raw)
	}
}

func TestProjectOutput_SelectsProperties(t *testing.T) {
	state := document.Doc(`{"inputs":{"x":1},"temp":{"scratch":true},"total":14,"summary":"ok"}`)
	schema := json.RawMessage(`{"type":"object","properties":{"total":{"type":"number"},"summary":{"type":"string"}}}`)
	out := ProjectOutput(state, schema)
	if !document.Equal(out, document.Doc(`{"total":14,"summary":"ok"}`)) {
		t.Errorf("projection = %s", out)
	}
}

func TestProjectOutput_NoSchemaReturnsState(t *testing.T) {
	state := document.Doc(`{"a":1}`)
	if out := ProjectOutput(state, nil); !document.Equal(out, state) {
		t.Errorf("projection without schema = %s", out)
	}
}

func TestProjectOutput_NoMatchesReturnsState(t *testing.T) {
	state := document.Doc(`{"a":1}`)
	schema := json.RawMessage(`{"properties":{"missing":{"type":"number"}}}`)
	if out := ProjectOutput(state, schema); !document.Equal(out, state) {
		t.Errorf("projection falls back to full state on zero matches, got %s", out)
	}
}
