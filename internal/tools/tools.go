// Package tools defines the video tools the model can call and the executor
// that runs them against one workspace.
package tools

import (
	"github.com/jkaninda/tubechat/internal/llm"
)

// Kind enumerates the tools. The same table drives the schema sent to the
// model and the executor's dispatch, so the two cannot drift apart.
type Kind int

const (
	KindWatchVideo Kind = iota + 1
	KindListVideos
	KindGetTranscript
	KindSummarizeVideos
)

// Tool names as seen by the model.
const (
	NameWatchVideo      = "watch_video"
	NameListVideos      = "list_videos"
	NameGetTranscript   = "get_transcript"
	NameSummarizeVideos = "summarize_videos"
)

// WatchVideoInput is the input of watch_video.
type WatchVideoInput struct {
	URL string `json:"url"`
}

// ListVideosInput is the input of list_videos.
type ListVideosInput struct{}

// GetTranscriptInput is the input of get_transcript.
type GetTranscriptInput struct {
	ID int64 `json:"id"`
}

// SummarizeVideosInput is the input of summarize_videos.
type SummarizeVideosInput struct {
	ID int64 `json:"id"`
}

type toolSpec struct {
	kind        Kind
	name        string
	description string
	schema      map[string]any
}

var idSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id": map[string]any{
			"type":        "integer",
			"description": "The id of the video. Ids can be retrieved with the list_videos tool.",
		},
	},
	"required": []string{"id"},
}

var toolSpecs = []toolSpec{
	{
		kind:        KindWatchVideo,
		name:        NameWatchVideo,
		description: "Load a YouTube video by URL and extract its transcript. The system caches the video in an enumerated collection, retrievable by the list_videos tool.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The YouTube video URL",
				},
			},
			"required": []string{"url"},
		},
	},
	{
		kind:        KindListVideos,
		name:        NameListVideos,
		description: "List all currently loaded videos. Returns an enumerated list of previously watched videos.",
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		kind:        KindGetTranscript,
		name:        NameGetTranscript,
		description: "Retrieve the transcript of a single video.",
		schema:      idSchema,
	},
	{
		kind:        KindSummarizeVideos,
		name:        NameSummarizeVideos,
		description: "Generate a summary of a single, previously watched video. You should return this text, unmodified, if the user requests a summary.",
		schema:      idSchema,
	},
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(toolSpecs))
	for _, s := range toolSpecs {
		m[s.name] = s.kind
	}
	return m
}()

// String returns the tool name of k.
func (k Kind) String() string {
	for _, s := range toolSpecs {
		if s.kind == k {
			return s.name
		}
	}
	return "unknown"
}

// ParseKind resolves a tool name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindByName[name]
	return k, ok
}

// Names lists the tool names in declaration order.
func Names() []string {
	names := make([]string, len(toolSpecs))
	for i, s := range toolSpecs {
		names[i] = s.name
	}
	return names
}

// Definitions returns the tool schema advertised to the model.
func Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(toolSpecs))
	for i, s := range toolSpecs {
		defs[i] = llm.ToolDefinition{
			Name:        s.name,
			Description: s.description,
			InputSchema: s.schema,
		}
	}
	return defs
}

// MaxOutputBytes caps tool output fed back to the model.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}
