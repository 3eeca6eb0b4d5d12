package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/richinex/agentpatterns/agent"
	jsonutil "github.com/richinex/agentpatterns/internal/json"
	"github.com/richinex/agentpatterns/internal/schema"
	"github.com/richinex/agentpatterns/llm"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render fills {field} placeholders of template from a JSON object. String
// fields are inserted verbatim and other values as JSON. A non-object
// input is available as {input}. Unknown placeholders are left in place.
func Render(template string, input json.RawMessage) (string, error) {
	fields := map[string]any{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &fields); err != nil {
			var v any
			if err := json.Unmarshal(input, &v); err != nil {
				return "", fmt.Errorf("invalid task input: %w", err)
			}
			fields = map[string]any{"input": v}
		}
	}

	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		v, ok := fields[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if s, isString := v.(string); isString {
			return s
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return m
		}
		return string(raw)
	}), nil
}

// PromptTask is an activity defined by a description template. Without an
// Agent it is one LLM call; with an Agent the rendered prompt becomes the
// agent's input, so the agent's tools are available.
type PromptTask struct {
	Description string
	System      string
	Provider    llm.Provider
	Agent       agent.Runner
}

// Func returns the task as an ActivityFunc producing a string.
func (t PromptTask) Func() ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		prompt, err := Render(t.Description, input)
		if err != nil {
			return nil, NonRetryable(err)
		}

		if t.Agent != nil {
			resp := t.Agent.Run(ctx, prompt)
			if err := resp.Err(); err != nil {
				return nil, fmt.Errorf("agent %s: %w", t.Agent.Name(), err)
			}
			return resp.Result, nil
		}

		if t.Provider == nil {
			return nil, NonRetryable(errors.New("prompt task has neither agent nor provider"))
		}
		var messages []llm.ChatMessage
		if t.System != "" {
			messages = append(messages, llm.SystemMessage(t.System))
		}
		messages = append(messages, llm.UserMessage(prompt))
		return llm.NewClient(t.Provider).Chat(ctx, messages)
	}
}

// StructuredTask asks the model for JSON matching the schema of T. The
// reply is parsed leniently: markdown fences and text around the JSON are
// ignored. A reply that does not decode is retried.
type StructuredTask[T any] struct {
	Name        string
	Description string
	System      string
	Provider    llm.Provider
}

// Func returns the task as an ActivityFunc producing a T.
func (t StructuredTask[T]) Func() ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		if t.Provider == nil {
			return nil, NonRetryable(errors.New("structured task has no provider"))
		}
		return t.Call(ctx, input)
	}
}

// Call renders the prompt and returns the decoded reply.
func (t StructuredTask[T]) Call(ctx context.Context, input json.RawMessage) (T, error) {
	var zero T
	prompt, err := Render(t.Description, input)
	if err != nil {
		return zero, NonRetryable(err)
	}
	sch, err := schema.JSON[T]()
	if err != nil {
		return zero, NonRetryable(err)
	}

	var messages []llm.ChatMessage
	if t.System != "" {
		messages = append(messages, llm.SystemMessage(t.System))
	}
	messages = append(messages, llm.UserMessage(
		prompt+"\n\nRespond only with JSON matching this schema:\n"+string(sch)))

	resp, err := t.Provider.ChatWithFormat(ctx, messages, llm.NewJSONSchemaFormat(formatName(t.Name), sch))
	if err != nil {
		return zero, err
	}
	out, err := jsonutil.Decode[T](resp.Content)
	if err != nil {
		return zero, fmt.Errorf("unparseable structured reply: %w", err)
	}
	return out, nil
}

// formatName keeps the characters providers accept in a schema name.
func formatName(name string) string {
	if name == "" {
		return "response"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
