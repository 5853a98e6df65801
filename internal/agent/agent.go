// Package agent runs the tool-use loop that turns one user message into a
// final assistant answer.
package agent

import (
	"context"
	"time"

	"github.com/jkaninda/tubechat/internal/llm"
)

// DefaultMaxIterations bounds the number of LLM round-trips per Chat call.
const DefaultMaxIterations = 10

const (
	// EmptyContentPlaceholder is returned when the terminal response has no content blocks.
	EmptyContentPlaceholder = "[empty response]"

	// CappedResponse is returned when the iteration cap is reached.
	CappedResponse = "Maximum tool use iterations reached. Please refine your request."
)

// EventType classifies an Event.
type EventType string

const (
	EventMessage         EventType = "message"
	EventToolUse         EventType = "tool_use"
	EventToolResult      EventType = "tool_result"
	EventVideoWatched    EventType = "video_watched"
	EventVideoSummarized EventType = "video_summarized"
)

// Event is emitted after each model response and after each tool side effect.
// Content is the human-readable rendition consumers persist; Data carries the
// structured payload.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, content string, data map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Content: content, Data: data}
}

// EventSink receives events as they are emitted. Implementations must not block
// for long; Chat calls Emit synchronously.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// ToolOutcome is the result of one tool invocation. Failures are reported in
// Output with IsError set; executors never return Go errors to the loop.
type ToolOutcome struct {
	Output  string
	IsError bool
	Events  []Event
}

// ToolExecutor runs a tool requested by the model.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input map[string]any) ToolOutcome
}

// Result is the terminal output of one Chat call.
type Result struct {
	Messages      []llm.Message // history, the new user turn and every turn added during the call
	FinalResponse string
	Events        []Event
	Iterations    int
	Capped        bool
}
