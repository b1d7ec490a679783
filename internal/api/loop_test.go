package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/valiloop/internal/retry"
)

// recordingTools answers every call with "ok" and treats "done" as final.
type recordingTools struct {
	calls []string
}

func (r *recordingTools) Definitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		NewTool("click", "Click an element", map[string]Property{"selector": {Type: "string", Description: "CSS selector"}}, "selector"),
		NewTool("done", "Finish", map[string]Property{"text": {Type: "string", Description: "Final answer"}}, "text"),
	}
}

func (r *recordingTools) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	r.calls = append(r.calls, name)
	if name == "done" {
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(input, &p)
		return ToolResult{Content: p.Text, Final: true}
	}
	return ToolResult{Content: "ok"}
}

func TestAgentLoop_FinalTool(t *testing.T) {
	sender := &scriptedSender{responses: []string{
		toolReply(t, "tu_1", "click", map[string]any{"selector": "#add"}),
		toolReply(t, "tu_2", "done", map[string]any{"text": "Success"}),
	}}
	loop := NewAgentLoop(NewClientWithSender(sender, "", retry.Policy{}), "You are a tester.")
	tools := &recordingTools{}

	res, err := loop.Run(context.Background(), "test the page", tools, 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != "Success" {
		t.Errorf("expected output 'Success', got %q", res.Output)
	}
	if res.Iterations != 2 || res.ToolCalls != 2 {
		t.Errorf("expected 2 iterations and 2 tool calls, got %d/%d", res.Iterations, res.ToolCalls)
	}
	if len(res.Steps) != 2 || res.Steps[0].Tool != "click" {
		t.Errorf("unexpected steps %+v", res.Steps)
	}

	// Second request carries the assistant turn and the tool result.
	if got := len(sender.requests[1].Messages); got != 3 {
		t.Errorf("expected 3 messages in second request, got %d", got)
	}
	if len(sender.requests[0].Tools) != 2 {
		t.Errorf("expected tool definitions to be sent")
	}
}

func TestAgentLoop_EndTurnText(t *testing.T) {
	sender := &scriptedSender{responses: []string{textReply(t, "Success")}}
	loop := NewAgentLoop(NewClientWithSender(sender, "", retry.Policy{}), "")

	res, err := loop.Run(context.Background(), "task", &recordingTools{}, 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != "Success" {
		t.Errorf("expected 'Success', got %q", res.Output)
	}
}

func TestAgentLoop_MaxSteps(t *testing.T) {
	sender := &scriptedSender{responses: []string{
		toolReply(t, "tu_1", "click", map[string]any{"selector": "a"}),
		toolReply(t, "tu_2", "click", map[string]any{"selector": "b"}),
		toolReply(t, "tu_3", "click", map[string]any{"selector": "c"}),
	}}
	loop := NewAgentLoop(NewClientWithSender(sender, "", retry.Policy{}), "")

	res, err := loop.Run(context.Background(), "task", &recordingTools{}, 2)
	if !errors.Is(err, ErrMaxSteps) {
		t.Fatalf("expected ErrMaxSteps, got %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}
	if sender.calls() != 2 {
		t.Errorf("expected 2 API calls, got %d", sender.calls())
	}
}

func TestAgentLoop_APIError(t *testing.T) {
	sender := &scriptedSender{errs: []error{errors.New("boom")}}
	loop := NewAgentLoop(NewClientWithSender(sender, "", retry.Policy{}), "")

	var events []string
	loop.SetStreamHandler(func(e StreamEvent) { events = append(events, e.Type) })

	if _, err := loop.Run(context.Background(), "task", &recordingTools{}, 3); err == nil {
		t.Fatal("expected error")
	}
	if len(events) != 1 || events[0] != "error" {
		t.Errorf("expected a single error event, got %v", events)
	}
}

func TestNewTool(t *testing.T) {
	tool := NewTool("navigate", "Open a URL", map[string]Property{"url": {Type: "string", Description: "Target"}}, "url")
	if tool.OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if tool.OfTool.Name != "navigate" {
		t.Errorf("unexpected name %q", tool.OfTool.Name)
	}
	if len(tool.OfTool.InputSchema.Required) != 1 || tool.OfTool.InputSchema.Required[0] != "url" {
		t.Errorf("unexpected required %v", tool.OfTool.InputSchema.Required)
	}
}

func TestTruncateForDisplay_RuneBoundary(t *testing.T) {
	if got := truncateForDisplay("short"); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}

	// Byte 500 falls inside a two-byte rune.
	got := truncateForDisplay("a" + strings.Repeat("é", 300))
	if !utf8.ValidString(got) {
		t.Errorf("expected valid UTF-8, got %q", got)
	}
	if want := "a" + strings.Repeat("é", 249) + "..."; got != want {
		t.Errorf("expected %d bytes, got %d", len(want), len(got))
	}
}
