// Typed function tools.
//
// A FuncTool adapts a plain Go function taking an argument struct. The
// struct's JSON schema is inferred once at construction and drives both the
// LLM-facing definition and argument validation.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/richinex/agentpatterns/internal/schema"
)

// Func is the signature wrapped by FuncTool.
type Func[T any] func(ctx context.Context, args T) (string, error)

// FuncTool is a Tool backed by a typed Go function.
type FuncTool[T any] struct {
	meta     ToolMetadata
	required []string
	fn       Func[T]
}

// NewFunc builds a tool named name from fn. The parameter schema is inferred
// from T, which must be a struct.
func NewFunc[T any](name, description string, fn Func[T]) (*FuncTool[T], error) {
	s, err := schema.For[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if s["type"] != "object" {
		return nil, fmt.Errorf("tool %s: arguments must be a struct", name)
	}

	required := stringList(s["required"])
	return &FuncTool[T]{
		meta: ToolMetadata{
			Name:        name,
			Description: description,
			Parameters:  parametersFromSchema(s, required),
			Schema:      s,
		},
		required: required,
		fn:       fn,
	}, nil
}

// MustFunc is NewFunc for tools declared at package level.
func MustFunc[T any](name, description string, fn Func[T]) *FuncTool[T] {
	t, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Metadata returns the tool metadata.
func (t *FuncTool[T]) Metadata() ToolMetadata {
	return t.meta
}

// Validate checks that args is a JSON object carrying every required field.
func (t *FuncTool[T]) Validate(args json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(nonEmpty(args), &fields); err != nil {
		return fmt.Errorf("validation: arguments must be a JSON object: %w", err)
	}
	for _, name := range t.required {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("validation: missing required argument %q", name)
		}
	}
	var decoded T
	if err := json.Unmarshal(nonEmpty(args), &decoded); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}

// Execute decodes args and calls the function. Function errors become
// failed results rather than Go errors so the model can see them.
func (t *FuncTool[T]) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	if err := t.Validate(args); err != nil {
		return FailureResult(err), nil
	}

	var in T
	if err := json.Unmarshal(nonEmpty(args), &in); err != nil {
		return FailureResult(fmt.Errorf("validation: %w", err)), nil
	}

	out, err := t.fn(ctx, in)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(out), nil
}

func nonEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}

func parametersFromSchema(s map[string]any, required []string) []ToolParameter {
	props, _ := s["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	isRequired := make(map[string]bool, len(required))
	for _, r := range required {
		isRequired[r] = true
	}

	params := make([]ToolParameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		params = append(params, ToolParameter{
			Name:        name,
			ParamType:   typ,
			Description: desc,
			Required:    isRequired[name],
		})
	}
	return params
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
