package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/video"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 90 * time.Second

// NoVideosMessage is the list_videos output for an empty workspace.
const NoVideosMessage = "no videos have been watched"

// Watcher resolves a URL to a stored video linked to the workspace.
// Implemented by video.Library.
type Watcher interface {
	Watch(ctx context.Context, workspaceID uuid.UUID, rawURL string) (*domain.Video, error)
}

// VideoReader reads the videos of a workspace.
type VideoReader interface {
	ListVideos(ctx context.Context, workspaceID uuid.UUID) ([]domain.WorkspaceVideo, error)
	GetWorkspaceVideo(ctx context.Context, workspaceID uuid.UUID, videoID int64) (*domain.WorkspaceVideo, error)
}

// Deps holds the collaborators of an Executor. Cache, Metrics and Tracer are optional.
type Deps struct {
	Watcher    Watcher
	Videos     VideoReader
	Summarizer video.Summarizer
	Cache      *agent.ToolCache
	Metrics    *observability.MetricsCollector
	Tracer     trace.Tracer
	Logger     *slog.Logger
	Timeout    time.Duration
}

type handler func(ctx context.Context, input map[string]any) (string, []agent.Event, error)

// Executor runs the video tools against a single workspace.
type Executor struct {
	workspaceID uuid.UUID
	deps        Deps
	handlers    map[Kind]handler
}

var _ agent.ToolExecutor = (*Executor)(nil)

// NewExecutor creates an executor scoped to workspaceID.
func NewExecutor(workspaceID uuid.UUID, deps Deps) *Executor {
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e := &Executor{workspaceID: workspaceID, deps: deps}
	e.handlers = map[Kind]handler{
		KindWatchVideo:      e.watchVideo,
		KindListVideos:      e.listVideos,
		KindGetTranscript:   e.getTranscript,
		KindSummarizeVideos: e.summarizeVideo,
	}
	return e
}

// Execute runs the named tool. Failures never escape as errors: they are
// rendered into the output with IsError set so the model can react.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]any) agent.ToolOutcome {
	kind, ok := ParseKind(name)
	if !ok {
		e.deps.Logger.WarnContext(ctx, "unknown tool requested", slog.String("tool", name))
		e.record(name, "unknown", 0)
		return agent.ToolOutcome{
			Output:  fmt.Sprintf("UnknownTool: the tool %q does not exist. Available tools: %v", name, Names()),
			IsError: true,
		}
	}

	if e.deps.Tracer != nil {
		var span trace.Span
		ctx, span = e.deps.Tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(
				observability.AttrTool.String(name),
				observability.AttrWorkspaceID.String(e.workspaceID.String()),
			),
		)
		defer span.End()
	}

	start := time.Now()
	output, events, err := e.call(ctx, e.handlers[kind], input)
	elapsed := time.Since(start)

	if err != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
		}
		e.deps.Logger.WarnContext(ctx, "tool failed",
			slog.String("tool", name),
			slog.String("workspace_id", e.workspaceID.String()),
			slog.String("error", err.Error()),
		)
		e.record(name, "error", elapsed)
		return agent.ToolOutcome{Output: TruncateOutput(err.Error(), MaxOutputBytes), IsError: true}
	}

	e.deps.Logger.DebugContext(ctx, "tool executed",
		slog.String("tool", name),
		slog.Duration("duration", elapsed),
	)
	e.record(name, "success", elapsed)
	return agent.ToolOutcome{Output: TruncateOutput(output, MaxOutputBytes), Events: events}
}

// call runs h under the per-call timeout, retrying once if the attempt timed
// out while the caller's context is still live.
func (e *Executor) call(ctx context.Context, h handler, input map[string]any) (string, []agent.Event, error) {
	var (
		output string
		events []agent.Event
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.deps.Timeout)
		output, events, err = h(callCtx, input)
		cancel()
		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		e.deps.Logger.WarnContext(ctx, "tool call timed out, retrying",
			slog.Duration("timeout", e.deps.Timeout),
			slog.Int("attempt", attempt+1),
		)
	}
	return output, events, err
}

func (e *Executor) record(tool, status string, elapsed time.Duration) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	if elapsed > 0 {
		e.deps.Metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// --- Handlers ---

func (e *Executor) watchVideo(ctx context.Context, raw map[string]any) (string, []agent.Event, error) {
	var in WatchVideoInput
	if err := decodeInput(raw, &in); err != nil {
		return "", nil, err
	}
	if in.URL == "" {
		return "", nil, errors.New("InvalidInput: url is required")
	}

	v, err := e.deps.Watcher.Watch(ctx, e.workspaceID, in.URL)
	if err != nil {
		return "", nil, err
	}

	out := fmt.Sprintf("Watched %s, transcript can be retrieved with the get_transcript tool. The id is %d", v.String(), v.ID)
	ev := agent.NewEvent(agent.EventVideoWatched, "", map[string]any{
		"video_id": v.ID,
		"url":      v.URL,
		"title":    v.Title,
	})
	return out, []agent.Event{ev}, nil
}

// listedVideo is the shape list_videos reports to the model.
type listedVideo struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	PublishDate string `json:"publish_date,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

func (e *Executor) listVideos(ctx context.Context, raw map[string]any) (string, []agent.Event, error) {
	var in ListVideosInput
	if err := decodeInput(raw, &in); err != nil {
		return "", nil, err
	}

	wvs, err := e.deps.Videos.ListVideos(ctx, e.workspaceID)
	if err != nil {
		return "", nil, fmt.Errorf("listing videos: %w", err)
	}
	if len(wvs) == 0 {
		return NoVideosMessage, nil, nil
	}

	list := make([]listedVideo, 0, len(wvs))
	for _, wv := range wvs {
		if wv.Video == nil {
			continue
		}
		lv := listedVideo{
			ID:       wv.Video.ID,
			URL:      wv.Video.URL,
			Title:    wv.Video.Title,
			Channel:  wv.Video.Channel,
			Duration: wv.Video.Duration,
		}
		if !wv.Video.PublishedAt.IsZero() {
			lv.PublishDate = wv.Video.PublishedAt.Format(time.RFC3339)
		}
		list = append(list, lv)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding video list: %w", err)
	}
	return string(data), nil, nil
}

func (e *Executor) getTranscript(ctx context.Context, raw map[string]any) (string, []agent.Event, error) {
	var in GetTranscriptInput
	if err := decodeInput(raw, &in); err != nil {
		return "", nil, err
	}

	scope := e.workspaceID.String()
	params := map[string]any{"id": in.ID}
	if cached, ok := e.deps.Cache.Get(scope, NameGetTranscript, params); ok {
		return cached, nil, nil
	}

	v, err := e.lookup(ctx, in.ID)
	if err != nil {
		return "", nil, err
	}
	e.deps.Cache.Set(scope, NameGetTranscript, params, v.Transcript)
	return v.Transcript, nil, nil
}

func (e *Executor) summarizeVideo(ctx context.Context, raw map[string]any) (string, []agent.Event, error) {
	var in SummarizeVideosInput
	if err := decodeInput(raw, &in); err != nil {
		return "", nil, err
	}

	v, err := e.lookup(ctx, in.ID)
	if err != nil {
		return "", nil, err
	}
	summary, err := e.deps.Summarizer.Summarize(ctx, v.Transcript)
	if err != nil {
		return "", nil, fmt.Errorf("summarizing video %d: %w", in.ID, err)
	}

	ev := agent.NewEvent(agent.EventVideoSummarized, "", map[string]any{
		"video_id": v.ID,
		"summary":  summary,
	})
	return summary, []agent.Event{ev}, nil
}

// lookup returns a video of this workspace by id.
func (e *Executor) lookup(ctx context.Context, id int64) (*domain.Video, error) {
	wv, err := e.deps.Videos.GetWorkspaceVideo(ctx, e.workspaceID, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && wv.Video == nil) {
		return nil, fmt.Errorf("VideoNotFound: no video with id %d in this workspace; use list_videos to see valid ids", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading video %d: %w", id, err)
	}
	return wv.Video, nil
}

// decodeInput converts the model's loosely typed input into a typed struct.
// Integer ids sent as strings are accepted.
func decodeInput(raw map[string]any, dst any) error {
	if id, ok := raw["id"].(string); ok {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("InvalidInput: id must be an integer, got %q", id)
		}
		cp := make(map[string]any, len(raw))
		for k, v := range raw {
			cp[k] = v
		}
		cp["id"] = n
		raw = cp
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("InvalidInput: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("InvalidInput: %w", err)
	}
	return nil
}
