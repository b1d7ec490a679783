package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/valiloop/internal/retry"
)

// Image is an attachment sent alongside an instruction.
type Image struct {
	MediaType string
	Data      []byte
}

// PNG wraps PNG bytes as an Image.
func PNG(data []byte) Image {
	return Image{MediaType: "image/png", Data: data}
}

// Asker sends one instruction, with optional images, and returns the text reply.
type Asker interface {
	Ask(ctx context.Context, instruction string, images ...Image) (string, error)
}

var errEmptyReply = errors.New("empty reply")

// Ask sends a single-turn request. Transport failures and empty replies are
// retried per the client's policy. Markdown code fences around the reply
// are removed.
func (c *Client) Ask(ctx context.Context, instruction string, images ...Image) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(instruction))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	policy := c.retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error) {
			log.Printf("[api] ask attempt %d failed: %v", attempt, err)
		}
	}

	text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		resp, err := c.messages.New(ctx, params)
		if err != nil {
			return "", err
		}
		c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		return replyText(resp), nil
	}, func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errEmptyReply
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return StripFences(text), nil
}

func replyText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	return sb.String()
}

// StripFences removes a surrounding ``` or ```json fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
