// Package openai implements the LLM provider interface on top of the OpenAI
// Chat Completions API. Any OpenAI-compatible endpoint (Ollama, vLLM) works
// through WithBaseURL.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/jkaninda/tubechat/internal/llm"
)

// Client implements llm.Provider using the OpenAI SDK.
type Client struct {
	client oai.Client
	model  string
	name   string
	logger *slog.Logger
}

type config struct {
	baseURL    string
	name       string
	httpClient *http.Client
}

// Option configures the OpenAI client.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "ollama").
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// NewClient creates an OpenAI-compatible provider. SDK retries are disabled;
// llm.RetryProvider owns the retry policy.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	cfg := &config{name: "openai"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Client{
		client: oai.NewClient(reqOpts...),
		model:  model,
		name:   cfg.name,
		logger: logger,
	}
}

func (c *Client) Name() string { return c.name }

// SendMessage sends the conversation to the Chat Completions API.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	out := c.toResponse(ctx, resp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("input_tokens", out.Usage.InputTokens),
		slog.Int("output_tokens", out.Usage.OutputTokens),
		slog.String("stop_reason", out.StopReason),
	)
	return out, nil
}

// Ping lists models to verify the key and endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	return nil
}

func (c *Client) buildParams(req *llm.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	// No prompt caching on this API; context items become extra system turns.
	for _, item := range req.Context {
		messages = append(messages, oai.SystemMessage(item.Render()))
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m)...)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.InputSchema),
			},
		})
	}
	return params
}

// convertMessage maps one conversation turn to one or more chat messages.
// A user turn carrying tool_result blocks becomes one tool message per block.
func convertMessage(m llm.Message) []oai.ChatCompletionMessageParamUnion {
	if len(m.ContentBlocks) == 0 {
		if m.Role == llm.RoleAssistant {
			return []oai.ChatCompletionMessageParamUnion{oai.AssistantMessage(m.Content)}
		}
		return []oai.ChatCompletionMessageParamUnion{oai.UserMessage(m.Content)}
	}

	if m.Role == llm.RoleAssistant {
		asst := oai.ChatCompletionAssistantMessageParam{}
		var text string
		for _, b := range m.ContentBlocks {
			switch b.Type {
			case "text":
				text += b.Text
			case "tool_use":
				args, _ := json.Marshal(b.Input)
				if b.Input == nil {
					args = []byte("{}")
				}
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: b.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      b.Name,
						Arguments: string(args),
					},
				})
			}
		}
		if text != "" {
			asst.Content.OfString = oai.String(text)
		}
		return []oai.ChatCompletionMessageParamUnion{{OfAssistant: &asst}}
	}

	var out []oai.ChatCompletionMessageParamUnion
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case "tool_result":
			out = append(out, oai.ToolMessage(b.Text, b.ToolUseID))
		case "text":
			out = append(out, oai.UserMessage(b.Text))
		}
	}
	return out
}

func (c *Client) toResponse(ctx context.Context, resp *oai.ChatCompletion) *llm.Response {
	choice := resp.Choices[0]

	var blocks []llm.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				c.logger.DebugContext(ctx, "tool call arguments are not an object",
					slog.String("tool", tc.Function.Name),
					slog.String("error", err.Error()),
				)
			}
		}
		blocks = append(blocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}

	out := &llm.Response{
		Content:       choice.Message.Content,
		ContentBlocks: blocks,
		StopReason:    mapFinishReason(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if raw := resp.RawJSON(); raw != "" {
		out.Raw = json.RawMessage(raw)
	}
	return out
}

// mapFinishReason translates OpenAI finish reasons to the Anthropic-style
// stop reasons the agent loop understands. Unknown values pass through.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return llm.StopEndTurn
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return reason
	}
}
