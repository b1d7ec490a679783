package api

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
)

// ToolExecutor supplies the tools an agent may call and runs them.
type ToolExecutor interface {
	Definitions() []anthropic.ToolUnionParam
	Execute(ctx context.Context, name string, input json.RawMessage) ToolResult
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Content string
	IsError bool
	// Final ends the agent run. Content becomes the run's output.
	Final bool
}

// Property describes one tool input field.
type Property struct {
	Type        string
	Description string
}

// NewTool builds a tool definition from its properties.
func NewTool(name, description string, props map[string]Property, required ...string) anthropic.ToolUnionParam {
	properties := make(map[string]interface{}, len(props))
	for key, p := range props {
		properties[key] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}
