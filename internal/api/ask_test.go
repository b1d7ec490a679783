package api

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/valiloop/internal/retry"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line", "```json{\"a\":1}```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{}\n```  ", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAsk_ReturnsText(t *testing.T) {
	sender := &scriptedSender{responses: []string{textReply(t, "```json\n{\"loading_success\":\"True\"}\n```")}}
	client := NewClientWithSender(sender, "", retry.Policy{MaxAttempts: 1})

	got, err := client.Ask(context.Background(), "classify", PNG([]byte{0x89, 'P', 'N', 'G'}))
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if got != `{"loading_success":"True"}` {
		t.Errorf("unexpected reply %q", got)
	}

	req := sender.requests[0]
	if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
		t.Fatalf("expected one message with image and text blocks, got %+v", req.Messages)
	}
	if req.Messages[0].Content[0].OfImage == nil {
		t.Error("expected image block first")
	}
	if in, out := client.Tracker().Total(); in != 10 || out != 5 {
		t.Errorf("expected tokens 10/5, got %d/%d", in, out)
	}
}

func TestAsk_RetriesTransportErrors(t *testing.T) {
	sender := &scriptedSender{
		errs:      []error{errors.New("overloaded"), nil},
		responses: []string{"", textReply(t, "ok")},
	}
	client := NewClientWithSender(sender, "", retry.Policy{MaxAttempts: 3})

	got, err := client.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected 'ok', got %q", got)
	}
	if sender.calls() != 2 {
		t.Errorf("expected 2 calls, got %d", sender.calls())
	}
}

func TestAsk_EmptyReplyIsInvalidPayload(t *testing.T) {
	sender := &scriptedSender{responses: []string{textReply(t, "  ")}}
	client := NewClientWithSender(sender, "", retry.Policy{MaxAttempts: 1})

	_, err := client.Ask(context.Background(), "hello")
	if !errors.Is(err, retry.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
