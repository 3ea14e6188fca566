package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences. The content group
// uses `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that
// models sometimes wrap around JSON output (e.g., "```json\n...\n```"). If
// only an opening fence is present (the response was truncated before the
// closing fence), the opening line is stripped so the JSON can still parse.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). Models sometimes emit
// regex-style patterns (e.g. \d+) unescaped inside JSON strings; this
// sanitizer double-escapes them so the parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with
// their correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// extractDelimited trims the payload to the outermost opener..closer span
// when one exists, dropping any prose the model emitted around the JSON.
func extractDelimited(s string, opener, closer byte) string {
	start := strings.IndexByte(s, opener)
	end := strings.LastIndexByte(s, closer)
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// scrubControlChars replaces raw control characters with spaces; models
// occasionally emit literal newlines inside JSON string values.
func scrubControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return ' '
		}
		return r
	}, s)
}

// decodeResponse runs the full response pipeline: strip fences, trim to the
// outermost JSON value, then parse into v. When parsing fails on invalid
// escape sequences, one sanitization pass is attempted before giving up.
func decodeResponse(raw string, v any) error {
	s := stripMarkdownFences(raw)
	s = scrubControlChars(s)

	opener, closer := byte('{'), byte('}')
	if i, j := strings.IndexByte(s, '['), strings.IndexByte(s, '{'); i >= 0 && (j < 0 || i < j) {
		opener, closer = '[', ']'
	}
	s = extractDelimited(s, opener, closer)

	if err := json.Unmarshal([]byte(s), v); err != nil {
		fixed := fixInvalidJSONEscapes(s)
		if err2 := json.Unmarshal([]byte(fixed), v); err2 != nil {
			return fmt.Errorf("agents: parse response: %w", err)
		}
	}
	return nil
}

// normalizeEmbeddedJSON unwraps a value that arrived as a stringified JSON
// document ("{\"x\":1}" instead of {"x":1}), which QA responses sometimes do
// with case inputs. Non-string or unparsable values pass through unchanged.
func normalizeEmbeddedJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return raw
	}
	if !json.Valid([]byte(trimmed)) {
		return raw
	}
	return json.RawMessage(trimmed)
}
