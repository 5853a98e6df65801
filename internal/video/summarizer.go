package video

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// SummaryPrompt is the system prompt used for transcript summaries.
const SummaryPrompt = "You are an AI assistant that creates summaries of video transcripts."

const (
	defaultSummaryModel     = "claude-3-5-sonnet-20241022"
	defaultSummaryMaxTokens = 8192
)

// ClaudeSummarizer summarizes transcripts with the Anthropic SDK.
type ClaudeSummarizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// SummarizerConfig configures a ClaudeSummarizer.
type SummarizerConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewClaudeSummarizer creates a summarizer. SDK retries are disabled so the
// tool executor's single-retry policy is the only one in effect.
func NewClaudeSummarizer(cfg SummarizerConfig, logger *slog.Logger) *ClaudeSummarizer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultSummaryModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultSummaryMaxTokens
	}
	return &ClaudeSummarizer{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Summarize sends the transcript as the single user turn.
func (s *ClaudeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.logger.DebugContext(ctx, "summarizing video", slog.Int("transcript_bytes", len(transcript)))

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: SummaryPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarizing transcript: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
