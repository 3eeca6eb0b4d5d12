// Package schema infers JSON schemas from Go types.
//
// Inference is delegated to google/jsonschema-go. Struct fields are named by
// their json tag, described by their jsonschema tag and required unless
// tagged omitempty. Every object is closed with additionalProperties=false so
// the result is accepted by strict structured-output endpoints.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// For returns the JSON schema of T as a generic map.
func For[T any]() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	normalize(out)
	return out, nil
}

// JSON returns the JSON schema of T encoded as JSON.
func JSON[T any]() (json.RawMessage, error) {
	m, err := For[T]()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return raw, nil
}

// MustJSON is JSON for package-level schemas of known-good types.
func MustJSON[T any]() json.RawMessage {
	raw, err := JSON[T]()
	if err != nil {
		panic(err)
	}
	return raw
}

// normalize closes objects and collapses nullable unions such as
// "type": ["null","array"], which slices infer to, into a single type.
func normalize(node map[string]any) {
	if types, ok := node["type"].([]any); ok {
		for _, t := range types {
			if s, ok := t.(string); ok && s != "null" {
				node["type"] = s
				break
			}
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		node["additionalProperties"] = false
		if _, ok := node["required"]; !ok {
			node["required"] = []any{}
		}
		for _, p := range props {
			if child, ok := p.(map[string]any); ok {
				normalize(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		normalize(items)
	}
}
