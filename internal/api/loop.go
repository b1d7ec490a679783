package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrMaxSteps is returned when the agent has not finished within its step cap.
var ErrMaxSteps = errors.New("max steps reached")

// AgentLoop manages the API call and tool execution cycle.
type AgentLoop struct {
	client    *Client
	system    string
	maxTokens int64
	onStream  func(StreamEvent)
}

// StreamEvent represents an event during agent execution.
type StreamEvent struct {
	Type    string // "text", "tool_use", "tool_result", "done", "error"
	Content string
	Tool    string
	Input   json.RawMessage
}

// Step records one tool call.
type Step struct {
	Iteration int             `json:"iteration"`
	Thought   string          `json:"thought,omitempty"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error,omitempty"`
}

// LoopResult contains the results of an agent loop execution.
type LoopResult struct {
	Output     string `json:"output"`
	Steps      []Step `json:"steps"`
	TokensIn   int64  `json:"tokens_in"`
	TokensOut  int64  `json:"tokens_out"`
	ToolCalls  int    `json:"tool_calls"`
	Iterations int    `json:"iterations"`
}

// NewAgentLoop creates a loop that sends system as the system prompt.
func NewAgentLoop(client *Client, system string) *AgentLoop {
	return &AgentLoop{client: client, system: system, maxTokens: 4096}
}

// SetStreamHandler sets a callback for streaming events during execution.
func (l *AgentLoop) SetStreamHandler(fn func(StreamEvent)) {
	l.onStream = fn
}

func (l *AgentLoop) emit(event StreamEvent) {
	if l.onStream != nil {
		l.onStream(event)
	}
}

// Run drives the model through task using tools. It returns when a tool
// reports a final result, the model ends its turn, or maxSteps API calls
// have been made. The partial result is returned alongside any error.
func (l *AgentLoop) Run(ctx context.Context, task string, tools ToolExecutor, maxSteps int) (*LoopResult, error) {
	result := &LoopResult{}
	if maxSteps < 1 {
		maxSteps = 1
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(task)),
	}

	params := anthropic.MessageNewParams{
		Model:     l.client.Model(),
		MaxTokens: l.maxTokens,
		Tools:     tools.Definitions(),
	}
	if l.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: l.system}}
	}

	for result.Iterations < maxSteps {
		result.Iterations++

		params.Messages = messages
		resp, err := l.client.messages.New(ctx, params)
		if err != nil {
			l.emit(StreamEvent{Type: "error", Content: err.Error()})
			return result, fmt.Errorf("API call failed: %w", err)
		}

		result.TokensIn += resp.Usage.InputTokens
		result.TokensOut += resp.Usage.OutputTokens
		l.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var textOutput string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput += variant.Text
				l.emit(StreamEvent{Type: "text", Content: variant.Text})
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				result.ToolCalls++

				l.emit(StreamEvent{Type: "tool_use", Tool: variant.Name, Input: variant.Input})
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				toolResult := tools.Execute(ctx, variant.Name, variant.Input)
				l.emit(StreamEvent{Type: "tool_result", Tool: variant.Name, Content: truncateForDisplay(toolResult.Content)})
				result.Steps = append(result.Steps, Step{
					Iteration: result.Iterations,
					Thought:   textOutput,
					Tool:      variant.Name,
					Input:     variant.Input,
					Result:    truncateForDisplay(toolResult.Content),
					IsError:   toolResult.IsError,
				})

				if toolResult.Final {
					result.Output = toolResult.Content
					l.emit(StreamEvent{Type: "done", Content: toolResult.Content})
					return result, nil
				}

				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, toolResult.Content, toolResult.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn || len(toolResultBlocks) == 0 {
			result.Output = textOutput
			l.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
	}

	return result, fmt.Errorf("%w (%d)", ErrMaxSteps, maxSteps)
}

func truncateForDisplay(s string) string {
	if len(s) <= 500 {
		return s
	}
	i := 500
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "..."
}
