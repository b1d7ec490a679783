package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// scriptedSender replays canned responses and records requests.
type scriptedSender struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []anthropic.MessageNewParams
}

func (s *scriptedSender) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.requests)
	s.requests = append(s.requests, body)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("no scripted response")
	}

	var msg anthropic.Message
	if err := json.Unmarshal([]byte(s.responses[i]), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textReply(t *testing.T, text string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content":     []any{map[string]any{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func toolReply(t *testing.T, id, name string, input map[string]any) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "msg_2",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-20250514",
		"stop_reason": "tool_use",
		"content": []any{
			map[string]any{"type": "text", "text": "Let me check."},
			map[string]any{"type": "tool_use", "id": id, "name": name, "input": input},
		},
		"usage": map[string]any{"input_tokens": 20, "output_tokens": 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}
