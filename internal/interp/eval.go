package interp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/microforge/internal/document"
	"github.com/dshills/microforge/internal/dsl"
)

// eval reduces one operation to its result value, encoded as raw JSON. It
// never mutates the document: either exactly one value is returned or a
// structured error is, and the caller performs the single write. Step
// attribution on the error is filled in by the caller.
func eval(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	switch op.Kind {
	case dsl.OpGet:
		res, serr := resolve(doc, op.Path)
		if serr != nil {
			return "", serr
		}
		return res.Raw, nil

	case dsl.OpConstant:
		b, err := json.Marshal(op.Value)
		if err != nil {
			return "", kindErr(dsl.ErrTypeMismatch, "constant is not encodable: %v", err)
		}
		return string(b), nil

	case dsl.OpPluck:
		return evalPluck(doc, op)

	case dsl.OpAdd, dsl.OpSubtract, dsl.OpMultiply, dsl.OpDivide:
		return evalArithmetic(doc, op)

	case dsl.OpCalculate:
		return evalCalculate(doc, op)

	case dsl.OpSum, dsl.OpMin, dsl.OpMax:
		return evalAggregate(doc, op)

	case dsl.OpCount:
		arr, serr := resolveArray(doc, op.ListPath)
		if serr != nil {
			return "", serr
		}
		return strconv.Itoa(len(arr)), nil

	case dsl.OpIndex:
		return evalIndex(doc, op)

	case dsl.OpFilterNumeric:
		return evalFilter(doc, op)

	case dsl.OpSort:
		return evalSort(doc, op)

	case dsl.OpFormatString:
		return evalFormat(doc, op)

	default:
		return "", kindErr(dsl.ErrMalformedCandidate, "unknown operation kind %q", op.Kind)
	}
}

// kindErr builds an unattributed StepError.
func kindErr(kind dsl.ErrorKind, format string, args ...any) *dsl.StepError {
	return &dsl.StepError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// resolve reads an operand path with fallback, failing with PathNotFound and
// an availability hint when every candidate misses.
func resolve(doc document.Doc, path string) (gjson.Result, *dsl.StepError) {
	res, _, ok := doc.Resolve(path)
	if !ok {
		return gjson.Result{}, kindErr(dsl.ErrPathNotFound, "path %q not found; %s", path, doc.Hint())
	}
	return res, nil
}

// resolveNumber reads an operand path that must hold a number.
func resolveNumber(doc document.Doc, path string) (float64, *dsl.StepError) {
	res, serr := resolve(doc, path)
	if serr != nil {
		return 0, serr
	}
	if res.Type != gjson.Number {
		return 0, kindErr(dsl.ErrTypeMismatch, "value at %q is not a number (got %s)", path, res.Raw)
	}
	return res.Num, nil
}

// resolveArray reads an operand path that must hold an array.
func resolveArray(doc document.Doc, path string) ([]gjson.Result, *dsl.StepError) {
	res, serr := resolve(doc, path)
	if serr != nil {
		return nil, serr
	}
	if !res.IsArray() {
		return nil, kindErr(dsl.ErrTypeMismatch, "value at %q is not an array", path)
	}
	return res.Array(), nil
}

// encodeNumber renders a float as a JSON number. Non-finite values must
// never surface as results; arithmetic guards reject zero denominators
// before they arise, so this is the backstop.
func encodeNumber(v float64) (string, *dsl.StepError) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", kindErr(dsl.ErrTypeMismatch, "arithmetic produced a non-finite number")
	}
	b, _ := json.Marshal(v)
	return string(b), nil
}

// encodeArray joins pre-encoded element values into a JSON array.
func encodeArray(elems []string) string {
	return "[" + strings.Join(elems, ",") + "]"
}

func evalArithmetic(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	a, serr := resolveNumber(doc, op.A)
	if serr != nil {
		return "", serr
	}
	b, serr := resolveNumber(doc, op.B)
	if serr != nil {
		return "", serr
	}
	v, serr := applyMath(string(op.Kind), a, b)
	if serr != nil {
		return "", serr
	}
	return encodeNumber(v)
}

// applyMath applies one arithmetic operator, guarding division by a
// denominator that resolves to exactly 0.
func applyMath(operator string, a, b float64) (float64, *dsl.StepError) {
	switch operator {
	case string(dsl.OpAdd):
		return a + b, nil
	case string(dsl.OpSubtract):
		return a - b, nil
	case string(dsl.OpMultiply):
		return a * b, nil
	case string(dsl.OpDivide):
		if b == 0 {
			return 0, kindErr(dsl.ErrDivisionByZero, "denominator resolved to 0")
		}
		return a / b, nil
	default:
		return 0, kindErr(dsl.ErrMalformedCandidate, "unknown arithmetic operator %q", operator)
	}
}

func evalPluck(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.Path)
	if serr != nil {
		return "", serr
	}
	elems := make([]string, len(arr))
	for i, item := range arr {
		field := item.Get(escapeKey(op.Key))
		if !field.Exists() {
			elems[i] = "null"
			continue
		}
		elems[i] = field.Raw
	}
	return encodeArray(elems), nil
}

func evalCalculate(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.ListPath)
	if serr != nil {
		return "", serr
	}
	elems := make([]string, len(arr))
	for i, item := range arr {
		if !item.IsObject() {
			return "", kindErr(dsl.ErrTypeMismatch, "element %d of %q is not an object", i, op.ListPath)
		}
		a, serr := elementOperand(doc, item, op.AField, i)
		if serr != nil {
			return "", serr
		}
		b, serr := elementOperand(doc, item, op.BField, i)
		if serr != nil {
			return "", serr
		}
		v, serr := applyMath(op.Operator, a, b)
		if serr != nil {
			return "", serr
		}
		enc, serr := encodeNumber(v)
		if serr != nil {
			return "", serr
		}
		out, err := sjson.SetRaw(item.Raw, escapeKey(op.OutputField), enc)
		if err != nil {
			return "", kindErr(dsl.ErrTypeMismatch, "cannot set %q on element %d: %v", op.OutputField, i, err)
		}
		elems[i] = out
	}
	return encodeArray(elems), nil
}

// elementOperand resolves one calculate operand: a slash-prefixed field is an
// absolute document path, anything else is a field of the current element.
func elementOperand(doc document.Doc, item gjson.Result, field string, idx int) (float64, *dsl.StepError) {
	if strings.HasPrefix(field, "/") {
		return resolveNumber(doc, field)
	}
	v := item.Get(escapeKey(field))
	if !v.Exists() {
		return 0, kindErr(dsl.ErrPathNotFound, "element %d has no field %q", idx, field)
	}
	if v.Type != gjson.Number {
		return 0, kindErr(dsl.ErrTypeMismatch, "element %d field %q is not a number", idx, field)
	}
	return v.Num, nil
}

// elementNumber extracts the numeric value an aggregation or filter reads
// from one element: the named field when set, the element itself otherwise.
func elementNumber(item gjson.Result, field string, idx int) (float64, *dsl.StepError) {
	v := item
	if field != "" {
		v = item.Get(escapeKey(field))
		if !v.Exists() {
			return 0, kindErr(dsl.ErrTypeMismatch, "element %d has no field %q", idx, field)
		}
	}
	if v.Type != gjson.Number {
		return 0, kindErr(dsl.ErrTypeMismatch, "element %d is not numeric", idx)
	}
	return v.Num, nil
}

func evalAggregate(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.ListPath)
	if serr != nil {
		return "", serr
	}
	if len(arr) == 0 {
		if op.Kind == dsl.OpSum {
			return "0", nil // additive identity; an empty sum is well-defined
		}
		return "", kindErr(dsl.ErrEmptyAggregate, "%s over empty array at %q", op.Kind, op.ListPath)
	}

	acc, serr := elementNumber(arr[0], op.Field, 0)
	if serr != nil {
		return "", serr
	}
	for i := 1; i < len(arr); i++ {
		v, serr := elementNumber(arr[i], op.Field, i)
		if serr != nil {
			return "", serr
		}
		switch op.Kind {
		case dsl.OpSum:
			acc += v
		case dsl.OpMin:
			acc = math.Min(acc, v)
		case dsl.OpMax:
			acc = math.Max(acc, v)
		}
	}
	return encodeNumber(acc)
}

func evalIndex(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.ListPath)
	if serr != nil {
		return "", serr
	}
	if op.Index < 0 || op.Index >= len(arr) {
		return "", kindErr(dsl.ErrIndexOutOfBounds, "index %d outside array of length %d at %q",
			op.Index, len(arr), op.ListPath)
	}
	return arr[op.Index].Raw, nil
}

// filterEpsilon is the tolerance of the eq comparison; generated thresholds
// pass through float formatting, so exact equality would be brittle.
const filterEpsilon = 1e-9

func evalFilter(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.ListPath)
	if serr != nil {
		return "", serr
	}
	kept := make([]string, 0, len(arr))
	for i, item := range arr {
		v, serr := elementNumber(item, op.Field, i)
		if serr != nil {
			// Non-numeric elements are excluded from the result, not errors.
			continue
		}
		var keep bool
		switch op.Operator {
		case dsl.CmpGt:
			keep = v > op.FilterValue
		case dsl.CmpLt:
			keep = v < op.FilterValue
		case dsl.CmpEq:
			keep = math.Abs(v-op.FilterValue) < filterEpsilon
		case dsl.CmpGte:
			keep = v >= op.FilterValue
		case dsl.CmpLte:
			keep = v <= op.FilterValue
		}
		if keep {
			kept = append(kept, item.Raw)
		}
	}
	return encodeArray(kept), nil // an empty result is a valid result
}

func evalSort(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	arr, serr := resolveArray(doc, op.ListPath)
	if serr != nil {
		return "", serr
	}
	type keyed struct {
		raw string
		key float64
	}
	elems := make([]keyed, len(arr))
	for i, item := range arr {
		k, serr := elementNumber(item, op.Field, i)
		if serr != nil {
			return "", serr
		}
		elems[i] = keyed{raw: item.Raw, key: k}
	}
	// SliceStable in both directions: ties keep their original relative
	// order, which reversing a sorted ascending slice would not.
	if op.Descending {
		sort.SliceStable(elems, func(i, j int) bool { return elems[i].key > elems[j].key })
	} else {
		sort.SliceStable(elems, func(i, j int) bool { return elems[i].key < elems[j].key })
	}
	raws := make([]string, len(elems))
	for i, e := range elems {
		raws[i] = e.raw
	}
	return encodeArray(raws), nil
}

func evalFormat(doc document.Doc, op *dsl.Operation) (string, *dsl.StepError) {
	result := op.Template
	for _, v := range op.Variables {
		res, serr := resolve(doc, v.Path)
		if serr != nil {
			return "", serr
		}
		result = strings.ReplaceAll(result, "{"+v.Key+"}", scalarText(res))
	}
	b, _ := json.Marshal(result)
	return string(b), nil
}

// scalarText renders a resolved value for template substitution: strings
// unquoted, everything else as its JSON text.
func scalarText(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.Str
	}
	return res.Raw
}

// escapeKey aliases document.EscapeKey for field-name lookups on elements.
func escapeKey(key string) string { return document.EscapeKey(key) }
