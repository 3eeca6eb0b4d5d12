package tools

import (
	"github.com/richinex/agentpatterns/llm"
)

// Definitions converts tools to the definitions sent to an LLM.
// Tools without a full schema get an object schema built from their
// parameter list.
func Definitions(tools []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		meta := t.Metadata()
		defs[i] = llm.ToolDefinition{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  parameterSchema(meta),
		}
	}
	return defs
}

func parameterSchema(meta ToolMetadata) map[string]any {
	if meta.Schema != nil {
		return meta.Schema
	}

	props := make(map[string]any, len(meta.Parameters))
	required := []string{}
	for _, p := range meta.Parameters {
		props[p.Name] = map[string]any{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
