// Package document implements the tree-shaped value store logic programs
// execute against. A Doc holds canonical JSON bytes; reads resolve
// slash-delimited absolute paths through gjson with a small bounded fallback
// search, and writes go through sjson at the literal declared path, creating
// intermediate containers as needed.
package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Doc is a document as canonical JSON bytes. Docs are treated as immutable:
// Set returns a new Doc and never mutates the receiver's backing array.
type Doc []byte

// fallbackPrefixes is the fixed, ordered prefix list tried when a literal
// path misses: the literal path first, then the same trailing path under
// /inputs, then under /temp. First match wins. The list is deliberately
// small and bounded so resolution cost stays predictable.
var fallbackPrefixes = [...]string{"", "/inputs", "/temp"}

// New marshals v into a Doc.
func New(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("document: marshal: %w", err)
	}
	return Doc(b), nil
}

// FromJSON validates b as JSON and returns it as a Doc.
func FromJSON(b []byte) (Doc, error) {
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("document: invalid JSON")
	}
	return Doc(b), nil
}

// Copy returns an independent copy of the document. Every test run owns a
// private copy so concurrent runs share no mutable state.
func (d Doc) Copy() Doc {
	out := make(Doc, len(d))
	copy(out, d)
	return out
}

// String returns the document's JSON text.
func (d Doc) String() string { return string(d) }

// keyPath translates an absolute slash-delimited path into gjson/sjson key
// syntax. Dots and wildcard characters inside a segment are escaped so path
// segments are always literal names; numeric segments address array indexes.
func keyPath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return "", fmt.Errorf("document: path %q is not absolute", path)
	}
	segs := strings.Split(path[1:], "/")
	esc := make([]string, len(segs))
	for i, s := range segs {
		if s == "" {
			return "", fmt.Errorf("document: path %q has an empty segment", path)
		}
		esc[i] = EscapeKey(s)
	}
	return strings.Join(esc, "."), nil
}

// EscapeKey escapes the characters gjson treats specially inside a single
// key, so a segment with dots addresses a literal name rather than a nested
// path. Exported for callers that build gjson paths from field names.
func EscapeKey(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Get reads the value at the literal path only, with no fallback.
func (d Doc) Get(path string) (gjson.Result, bool) {
	kp, err := keyPath(path)
	if err != nil {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(d, kp)
	return res, res.Exists()
}

// Resolve reads the value at path, trying the literal path first and then
// the same trailing path under each fallback prefix in order. It returns the
// value and the path it was found at, or ok=false when every candidate
// misses. This absorbs disagreement between the program generator and the
// test-case author about nesting conventions.
func (d Doc) Resolve(path string) (gjson.Result, string, bool) {
	for _, prefix := range fallbackPrefixes {
		candidate := prefix + path
		if res, ok := d.Get(candidate); ok {
			return res, candidate, true
		}
	}
	return gjson.Result{}, "", false
}

// SetRaw writes pre-encoded JSON at the literal path, creating intermediate
// containers as needed. Writes never use fallback resolution: the declared
// output path is authoritative.
func (d Doc) SetRaw(path, raw string) (Doc, error) {
	kp, err := keyPath(path)
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetRawBytesOptions(d, kp, []byte(raw), &sjson.Options{ReplaceInPlace: false})
	if err != nil {
		return nil, fmt.Errorf("document: set %q: %w", path, err)
	}
	return Doc(out), nil
}

// Set marshals v and writes it at the literal path.
func (d Doc) Set(path string, v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("document: marshal value for %q: %w", path, err)
	}
	return d.SetRaw(path, string(b))
}

// Hint describes the document's root and /inputs keys for diagnostic
// messages on failed resolution, so a fixer sees what was actually available.
func (d Doc) Hint() string {
	root := gjson.ParseBytes(d)
	if !root.IsObject() {
		return "document root is not an object"
	}
	var rootKeys, inputKeys []string
	root.ForEach(func(k, _ gjson.Result) bool {
		rootKeys = append(rootKeys, k.Str)
		return true
	})
	if in := root.Get("inputs"); in.IsObject() {
		in.ForEach(func(k, _ gjson.Result) bool {
			inputKeys = append(inputKeys, k.Str)
			return true
		})
	}
	if len(inputKeys) > 0 {
		return fmt.Sprintf("available root keys: %v; available input keys: %v", rootKeys, inputKeys)
	}
	return fmt.Sprintf("available root keys: %v", rootKeys)
}

// approx treats numbers within a small relative tolerance as equal, so float
// round-trips through program arithmetic do not fail verification.
var approx = cmpopts.EquateApprox(1e-9, 1e-9)

// Equal compares two documents value-by-value: object key order is
// irrelevant, array order is significant, and numbers are compared with a
// small tolerance.
func Equal(a, b Doc) bool {
	av, aerr := decode(a)
	bv, berr := decode(b)
	if aerr != nil || berr != nil {
		return false
	}
	return cmp.Equal(av, bv, approx)
}

// Diff returns a human-readable structural diff between two documents,
// empty when they are Equal. Used verbatim in failing test outcomes.
func Diff(want, got Doc) string {
	wv, werr := decode(want)
	gv, gerr := decode(got)
	if werr != nil || gerr != nil {
		return fmt.Sprintf("undecodable document (want err: %v, got err: %v)", werr, gerr)
	}
	return cmp.Diff(wv, gv, approx)
}

func decode(d Doc) (any, error) {
	var v any
	if err := json.Unmarshal(d, &v); err != nil {
		return nil, err
	}
	return v, nil
}
