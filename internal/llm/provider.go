// Package llm defines the provider-agnostic interface for LLM interactions.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider is the abstraction over any LLM backend (Anthropic, OpenAI).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Pinger is implemented by providers that can cheaply verify reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes p when it implements Pinger. Providers without a probe are
// assumed reachable.
func Ping(ctx context.Context, p Provider) error {
	if pp, ok := p.(Pinger); ok {
		return pp.Ping(ctx)
	}
	return nil
}

// Stop reasons reported by providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Context      []ContentItem // Auxiliary system context, cached by providers that support it.
	Messages     []Message
	MaxTokens    int
	Temperature  *float64         // nil = provider default
	Tools        []ToolDefinition // nil = no tool use
}

// ContentItem is a piece of reference material supplied as system context
// rather than as a conversation turn.
type ContentItem struct {
	Source       string
	Title        string
	Author       string
	Content      string
	CreationDate time.Time
}

// Render formats the item as a system context block.
func (c ContentItem) Render() string {
	var b strings.Builder
	date := ""
	if !c.CreationDate.IsZero() {
		date = c.CreationDate.Format(time.DateOnly)
	}
	fmt.Fprintf(&b, "creation date: %s\n", date)
	fmt.Fprintf(&b, "source: %s\n", c.Source)
	fmt.Fprintf(&b, "author: %s\n", c.Author)
	fmt.Fprintf(&b, "title: %s\n", c.Title)
	fmt.Fprintf(&b, "content: %s", c.Content)
	return b.String()
}

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is a single turn in the conversation.
// Either Content (plain text) or ContentBlocks (structured) should be set, not both.
type Message struct {
	Role          Role           `json:"role"`
	Content       string         `json:"content,omitempty"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
}

// TextContent returns the concatenated text from all text blocks,
// or the plain Content field if no blocks are present.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var s string
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case "text":
			s += b.Text
		case "tool_result":
			s += b.Text
		}
	}
	return s
}

// ContentBlock is a tagged union representing a piece of message content.
// The Type field determines which other fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// text block fields
	Text string `json:"text,omitempty"`

	// tool_use block fields
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result block fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content       string         // Concatenated text content.
	ContentBlocks []ContentBlock // Full structured response including tool_use blocks.
	Usage         Usage
	StopReason    string          // "end_turn", "tool_use", "max_tokens", or provider specific
	Raw           json.RawMessage // Provider response body, kept for diagnostics.
}

// HasToolUse returns true if the LLM is requesting tool execution.
func (r *Response) HasToolUse() bool {
	return r.StopReason == StopToolUse
}

// FirstToolUse returns the first tool_use block, if any.
func (r *Response) FirstToolUse() (ContentBlock, bool) {
	for _, b := range r.ContentBlocks {
		if b.Type == "tool_use" {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// ToolUseBlocks returns only the tool_use content blocks from the response.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == "tool_use" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// RawString returns the raw provider payload, or a JSON rendering of the
// parsed response when the provider did not keep one.
func (r *Response) RawString() string {
	if len(r.Raw) > 0 {
		return string(r.Raw)
	}
	data, err := json.Marshal(struct {
		StopReason string         `json:"stop_reason"`
		Content    []ContentBlock `json:"content"`
	}{r.StopReason, r.ContentBlocks})
	if err != nil {
		return r.Content
	}
	return string(data)
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
