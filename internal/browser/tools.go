package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/valiloop/internal/api"
)

// maxTextLen caps page text returned to the model.
const maxTextLen = 8000

// Tool names exposed to the test agent.
const (
	ToolNavigate     = "navigate"
	ToolClick        = "click"
	ToolTypeText     = "type_text"
	ToolReadText     = "read_text"
	ToolListElements = "list_elements"
	ToolGoBack       = "go_back"
	ToolReload       = "reload"
	ToolCurrentURL   = "current_url"
	ToolDone         = "done"
)

// Tools exposes a Session as agent tools. The done tool ends the loop with
// the agent's verdict.
type Tools struct {
	session Session
}

// NewTools wraps session.
func NewTools(session Session) *Tools {
	return &Tools{session: session}
}

var _ api.ToolExecutor = (*Tools)(nil)

// Definitions returns the tool schemas.
func (t *Tools) Definitions() []anthropic.ToolUnionParam {
	sel := api.Property{Type: "string", Description: "CSS selector of the element, as returned by list_elements"}
	return []anthropic.ToolUnionParam{
		api.NewTool(ToolNavigate, "Open a URL in the browser and wait for it to load.",
			map[string]api.Property{"url": {Type: "string", Description: "Absolute URL to open"}}, "url"),
		api.NewTool(ToolClick, "Click an element.",
			map[string]api.Property{"selector": sel}, "selector"),
		api.NewTool(ToolTypeText, "Replace the value of an input element with text.",
			map[string]api.Property{"selector": sel, "text": {Type: "string", Description: "Text to type"}}, "selector", "text"),
		api.NewTool(ToolReadText, "Read the visible text of an element. Use \"body\" for the whole page.",
			map[string]api.Property{"selector": sel}, "selector"),
		api.NewTool(ToolListElements, "List visible interactive elements with selectors.", nil),
		api.NewTool(ToolGoBack, "Go back in history.", nil),
		api.NewTool(ToolReload, "Reload the current page.", nil),
		api.NewTool(ToolCurrentURL, "Return the current page URL.", nil),
		api.NewTool(ToolDone, "Finish the test and report the verdict. Pass exactly \"Success\" when every criterion is met, otherwise describe what failed.",
			map[string]api.Property{"text": {Type: "string", Description: "Verdict"}}, "text"),
	}
}

type toolInput struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// Execute runs one tool call. Page errors are reported back to the model
// rather than aborting the loop.
func (t *Tools) Execute(ctx context.Context, name string, raw json.RawMessage) api.ToolResult {
	if err := ctx.Err(); err != nil {
		return api.ToolResult{Content: err.Error(), IsError: true}
	}

	var in toolInput
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return api.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}
		}
	}

	switch name {
	case ToolNavigate:
		if in.URL == "" {
			return errResult("url is required")
		}
		if err := t.session.Navigate(in.URL); err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: "loaded " + in.URL}
	case ToolClick:
		if in.Selector == "" {
			return errResult("selector is required")
		}
		if err := t.session.Click(in.Selector); err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: "clicked " + in.Selector}
	case ToolTypeText:
		if in.Selector == "" {
			return errResult("selector is required")
		}
		if err := t.session.Type(in.Selector, in.Text); err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: fmt.Sprintf("typed %q into %s", in.Text, in.Selector)}
	case ToolReadText:
		if in.Selector == "" {
			in.Selector = "body"
		}
		text, err := t.session.Text(in.Selector)
		if err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: truncate(text, maxTextLen)}
	case ToolListElements:
		elems, err := t.session.Elements()
		if err != nil {
			return errResult(err.Error())
		}
		data, err := json.Marshal(elems)
		if err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: truncate(string(data), maxTextLen)}
	case ToolGoBack:
		if err := t.session.Back(); err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: "went back"}
	case ToolReload:
		if err := t.session.Reload(); err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: "reloaded"}
	case ToolCurrentURL:
		loc, err := t.session.Location()
		if err != nil {
			return errResult(err.Error())
		}
		return api.ToolResult{Content: loc}
	case ToolDone:
		return api.ToolResult{Content: strings.TrimSpace(in.Text), Final: true}
	default:
		return errResult("unknown tool: " + name)
	}
}

func errResult(msg string) api.ToolResult {
	return api.ToolResult{Content: msg, IsError: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "\n... [truncated]"
}
