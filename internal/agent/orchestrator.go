package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/observability"
)

// maxEventContentBytes caps the persisted rendition of tool results.
const maxEventContentBytes = 4096

// Orchestrator drives one conversation through the model, executing the
// first requested tool of each response until the model answers in text.
// An Orchestrator is cheap to build; construct one per chat call.
type Orchestrator struct {
	provider     llm.Provider
	systemPrompt string
	logger       *slog.Logger
	executor     ToolExecutor
	toolDefs     []llm.ToolDefinition
	contextItems []llm.ContentItem
	sink         EventSink
	obs          *observability.Observability
	maxTokens    int
	temperature  *float64

	// 0 = DefaultMaxIterations.
	maxIterations int
}

// NewOrchestrator creates an agent backed by the given LLM provider.
func NewOrchestrator(provider llm.Provider, systemPrompt string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider:     provider,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// WithTools attaches an executor and the tool schema advertised to the model.
func (o *Orchestrator) WithTools(exec ToolExecutor, defs []llm.ToolDefinition) *Orchestrator {
	o.executor = exec
	o.toolDefs = defs
	return o
}

// WithContext supplies reference material sent as system context blocks.
func (o *Orchestrator) WithContext(items []llm.ContentItem) *Orchestrator {
	o.contextItems = items
	return o
}

// WithEventSink registers a sink that receives every event as it is emitted.
func (o *Orchestrator) WithEventSink(sink EventSink) *Orchestrator {
	o.sink = sink
	return o
}

// WithObservability attaches metrics and tracing.
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// WithMaxIterations sets the maximum number of LLM round-trips.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// WithGeneration sets max_tokens and temperature for every request.
func (o *Orchestrator) WithGeneration(maxTokens int, temperature *float64) *Orchestrator {
	o.maxTokens = maxTokens
	o.temperature = temperature
	return o
}

// Chat appends userMessage to history and runs the tool-use loop.
// The returned error is non-nil only when the model cannot be reached.
func (o *Orchestrator) Chat(ctx context.Context, history []llm.Message, userMessage string) (*Result, error) {
	var span trace.Span
	if o.obs != nil && o.obs.Tracer != nil {
		ctx, span = o.obs.Tracer.Tracer().Start(ctx, "agent.chat",
			trace.WithAttributes(
				observability.AttrProvider.String(o.provider.Name()),
				observability.AttrHistoryLen.Int(len(history)),
			))
		defer span.End()
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	messages := make([]llm.Message, 0, len(history)+1+2*maxIter)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})

	result := &Result{}
	emit := func(ev Event) {
		result.Events = append(result.Events, ev)
		if o.sink != nil {
			o.sink.Emit(ctx, ev)
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		result.Iterations = iter + 1

		resp, err := o.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: o.systemPrompt,
			Context:      o.contextItems,
			Messages:     messages,
			MaxTokens:    o.maxTokens,
			Temperature:  o.temperature,
			Tools:        o.toolDefs,
		})
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return nil, fmt.Errorf("llm request failed: %w", err)
		}

		messages = append(messages, llm.Message{
			Role:          llm.RoleAssistant,
			ContentBlocks: resp.ContentBlocks,
		})

		block, hasTool := resp.FirstToolUse()
		if resp.StopReason != llm.StopToolUse || !hasTool || o.executor == nil {
			if resp.StopReason == llm.StopToolUse {
				o.logger.DebugContext(ctx, "tool use requested but not executable",
					slog.Bool("has_block", hasTool),
					slog.Bool("tools_enabled", o.executor != nil),
				)
			}
			final := o.finalText(ctx, resp)
			emit(o.responseEvent(ctx, resp, final))
			result.FinalResponse = final
			result.Messages = messages
			o.record(result)
			return result, nil
		}

		emit(o.responseEvent(ctx, resp, ""))

		if text := strings.TrimSpace(resp.Content); text != "" {
			o.logger.InfoContext(ctx, "model commentary alongside tool use",
				slog.String("tool", block.Name),
				slog.String("text", text),
			)
		}
		if n := len(resp.ToolUseBlocks()); n > 1 {
			o.logger.DebugContext(ctx, "multiple tool_use blocks, executing the first",
				slog.Int("count", n),
			)
		}

		o.logger.InfoContext(ctx, "executing tool call",
			slog.Int("iteration", iter+1),
			slog.String("tool", block.Name),
			slog.String("tool_use_id", block.ID),
		)

		outcome := o.executor.Execute(ctx, block.Name, block.Input)
		messages = append(messages, llm.Message{
			Role:          llm.RoleUser,
			ContentBlocks: []llm.ContentBlock{llm.ToolResultBlock(block.ID, outcome.Output, outcome.IsError)},
		})

		for _, ev := range outcome.Events {
			emit(ev)
		}
		emit(NewEvent(EventToolResult,
			fmt.Sprintf("Tool %s result: %s", block.Name, truncate(outcome.Output, maxEventContentBytes)),
			map[string]any{
				"tool_use_id": block.ID,
				"tool":        block.Name,
				"output":      outcome.Output,
				"is_error":    outcome.IsError,
			}))
	}

	o.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
	)
	result.FinalResponse = CappedResponse
	result.Capped = true
	result.Messages = messages
	o.record(result)
	return result, nil
}

// responseEvent maps a stop reason to an event type. Unrecognized stop
// reasons are passed through verbatim.
func (o *Orchestrator) responseEvent(ctx context.Context, resp *llm.Response, final string) Event {
	data := map[string]any{
		"stop_reason": resp.StopReason,
		"content":     resp.ContentBlocks,
		"usage": map[string]int{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}

	switch resp.StopReason {
	case llm.StopToolUse:
		return NewEvent(EventToolUse, toolUseContent(resp), data)
	case llm.StopEndTurn:
		return NewEvent(EventMessage, final, data)
	default:
		o.logger.WarnContext(ctx, "unexpected stop reason",
			slog.String("stop_reason", resp.StopReason),
		)
		return NewEvent(EventType(resp.StopReason), final, data)
	}
}

// finalText extracts the answer from the terminal response. Shapes other than
// a single text block degrade to the raw payload.
func (o *Orchestrator) finalText(ctx context.Context, resp *llm.Response) string {
	switch {
	case len(resp.ContentBlocks) == 0:
		o.logger.DebugContext(ctx, "response has no content blocks")
		return EmptyContentPlaceholder
	case len(resp.ContentBlocks) > 1:
		o.logger.DebugContext(ctx, "response has multiple content blocks, returning raw response",
			slog.Int("blocks", len(resp.ContentBlocks)),
		)
		return resp.RawString()
	case resp.ContentBlocks[0].Type != "text":
		o.logger.DebugContext(ctx, "single content block has no text, returning raw response",
			slog.String("type", resp.ContentBlocks[0].Type),
		)
		return resp.RawString()
	default:
		return resp.ContentBlocks[0].Text
	}
}

func (o *Orchestrator) record(r *Result) {
	if o.obs == nil || o.obs.Metrics == nil {
		return
	}
	outcome := "completed"
	if r.Capped {
		outcome = "capped"
	}
	o.obs.Metrics.AgentRunsTotal.WithLabelValues(outcome).Inc()
	o.obs.Metrics.AgentIterations.Observe(float64(r.Iterations))
}

// toolUseContent renders a tool_use response for persistence: the model's
// commentary if any, otherwise the call itself.
func toolUseContent(resp *llm.Response) string {
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text
	}
	block, ok := resp.FirstToolUse()
	if !ok {
		return ""
	}
	input, _ := json.Marshal(block.Input)
	return fmt.Sprintf("Using tool %s %s", block.Name, input)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
