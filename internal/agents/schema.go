package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxSchemaDepth bounds the recursion when cleaning a proposed schema, so a
// pathological self-referential schema cannot loop the cleaner.
const maxSchemaDepth = 20

// CleanSchema simplifies a JSON schema for model consumption: resolves local
// $ref pointers against $defs/definitions, strips metadata keys strict
// decoding modes reject ($schema, title, $id, additionalProperties, default,
// examples), collapses ["T","null"] type arrays to a nullable T, and replaces
// boolean schemas with a permissive typed form. The result is semantically
// looser than the input but survives every provider's structured-output mode.
func CleanSchema(raw json.RawMessage) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("agents: clean schema: %w", err)
	}

	defs := map[string]any{}
	if obj, ok := root.(map[string]any); ok {
		for _, key := range []string{"definitions", "$defs"} {
			if d, ok := obj[key].(map[string]any); ok {
				for name, def := range d {
					defs[name] = def
				}
			}
		}
	}

	root = cleanNode(root, defs, 0)

	if obj, ok := root.(map[string]any); ok {
		for _, key := range []string{"$schema", "title", "definitions", "$defs", "$id"} {
			delete(obj, key)
		}
	}

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("agents: clean schema: %w", err)
	}
	return out, nil
}

// cleanNode recursively simplifies one schema node and returns the
// replacement value.
func cleanNode(node any, defs map[string]any, depth int) any {
	if depth > maxSchemaDepth {
		return map[string]any{"type": "object", "nullable": true}
	}

	// Resolve $ref chains before descending; a bounded number of hops guards
	// against circular references.
	for hops := 0; hops < 10; hops++ {
		obj, ok := node.(map[string]any)
		if !ok {
			break
		}
		ref, ok := obj["$ref"].(string)
		if !ok {
			break
		}
		name := ref[strings.LastIndexByte(ref, '/')+1:]
		def, ok := defs[name]
		if !ok {
			node = map[string]any{"type": "object", "description": "unresolvable reference"}
			break
		}
		node = deepCopy(def)
	}

	// Boolean schemas: true means "anything", false means "nothing"; strict
	// decoding modes require a typed object either way.
	if allow, ok := node.(bool); ok {
		if allow {
			return map[string]any{"type": []any{"string", "number", "boolean", "null"}}
		}
		return map[string]any{"not": map[string]any{}}
	}

	switch n := node.(type) {
	case map[string]any:
		for _, key := range []string{"$ref", "additionalProperties", "$schema", "$id", "title", "default", "examples"} {
			delete(n, key)
		}
		collapseTypeArray(n)
		if props, ok := n["properties"].(map[string]any); ok {
			for name, val := range props {
				props[name] = cleanNode(val, defs, depth+1)
			}
		}
		if items, ok := n["items"]; ok {
			n["items"] = cleanNode(items, defs, depth+1)
		}
		for _, key := range []string{"allOf", "anyOf", "oneOf"} {
			if arr, ok := n[key].([]any); ok {
				for i, item := range arr {
					arr[i] = cleanNode(item, defs, depth+1)
				}
			}
		}
		return n
	case []any:
		for i, item := range n {
			n[i] = cleanNode(item, defs, depth+1)
		}
		return n
	default:
		return node
	}
}

// collapseTypeArray rewrites "type": ["T","null"] as "type": "T" plus
// nullable: true, and otherwise picks the first entry of a multi-type array.
func collapseTypeArray(obj map[string]any) {
	types, ok := obj["type"].([]any)
	if !ok || len(types) == 0 {
		return
	}
	if len(types) == 2 {
		var real any
		hasNull := false
		for _, t := range types {
			if t == "null" {
				hasNull = true
			} else {
				real = t
			}
		}
		if hasNull && real != nil {
			obj["type"] = real
			obj["nullable"] = true
			return
		}
	}
	obj["type"] = types[0]
}

// deepCopy clones a decoded JSON value so resolved $ref expansions never
// alias the definitions table.
func deepCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
