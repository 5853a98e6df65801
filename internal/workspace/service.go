// Package workspace orchestrates chat turns, video management and history
// for user workspaces on top of the store, the video library and the agent.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/storage"
	"github.com/jkaninda/tubechat/internal/tools"
	"github.com/jkaninda/tubechat/internal/video"
)

// ErrInvalidCursor is returned by GetMessages for a malformed cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// DefaultPageSize is the number of messages per GetMessages page.
const DefaultPageSize = 50

// Config tunes the Service.
type Config struct {
	SystemPrompt  string
	MaxIterations int
	MaxTokens     int
	Temperature   *float64 // nil = provider default
	ToolTimeout   time.Duration
	HistoryLimit  int // most recent messages replayed to the model; 0 replays the full history
	PageSize      int // messages per GetMessages page; 0 = DefaultPageSize
}

// MessagePage is one page of a workspace's chat history.
type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Service is the entry point for every workspace operation.
type Service struct {
	store      storage.Store
	provider   llm.Provider
	library    *video.Library
	summarizer video.Summarizer
	cache      *agent.ToolCache
	obs        *observability.Observability
	cfg        Config
	logger     *slog.Logger
	locks      *keyedMutex
}

// NewService creates a Service. fetcher and summarizer are the video
// collaborators; the store provides all persistence.
func NewService(store storage.Store, provider llm.Provider, fetcher video.Fetcher, summarizer video.Summarizer, cfg Config, logger *slog.Logger) *Service {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Service{
		store:      store,
		provider:   provider,
		library:    video.NewLibrary(store.Videos(), fetcher, logger),
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// WithToolCache shares a tool result cache across chat turns.
func (s *Service) WithToolCache(c *agent.ToolCache) *Service {
	s.cache = c
	return s
}

// WithObservability attaches metrics and tracing.
func (s *Service) WithObservability(obs *observability.Observability) *Service {
	s.obs = obs
	return s
}

// ToolCache returns the shared tool cache, if any.
func (s *Service) ToolCache() *agent.ToolCache { return s.cache }

// --- Users ---

// CreateUser registers a new user.
func (s *Service) CreateUser(ctx context.Context) (*domain.User, error) {
	u := &domain.User{}
	if err := s.store.Users().CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created", slog.String("user_id", u.ID.String()))
	return u, nil
}

// GetUser returns a user or domain.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.store.Users().GetUser(ctx, id)
}

// --- Workspaces ---

// CreateWorkspace creates a named workspace for an existing user.
func (s *Service) CreateWorkspace(ctx context.Context, userID uuid.UUID, name string) (*domain.Workspace, error) {
	name, err := domain.ValidateName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users().GetUser(ctx, userID); err != nil {
		return nil, err
	}
	ws := &domain.Workspace{UserID: userID, Name: name}
	if err := s.store.Workspaces().CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workspace created",
		slog.String("workspace_id", ws.ID.String()),
		slog.String("user_id", userID.String()),
	)
	return ws, nil
}

// ListWorkspaces returns a user's workspaces.
func (s *Service) ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	if _, err := s.store.Users().GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Workspaces().ListWorkspaces(ctx, userID)
}

// GetWorkspace returns a workspace or domain.ErrNotFound.
func (s *Service) GetWorkspace(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	return s.store.Workspaces().GetWorkspace(ctx, id)
}

// DeleteWorkspace removes a workspace with its history. Shared videos stay.
func (s *Service) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.store.Workspaces().DeleteWorkspace(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "workspace deleted", slog.String("workspace_id", id.String()))
	return nil
}

// --- Videos ---

// AddVideo watches a URL into the workspace through the same dedup path as
// the watch_video tool. Adding a video the workspace already holds returns
// domain.ErrVideoAlreadyInWorkspace.
func (s *Service) AddVideo(ctx context.Context, workspaceID uuid.UUID, rawURL string) (*domain.Video, error) {
	unlock := s.locks.Lock(workspaceID)
	defer unlock()

	if _, err := s.store.Workspaces().GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}

	existing, err := s.store.Videos().GetVideoByURL(ctx, video.NormalizeURL(rawURL))
	switch {
	case err == nil:
		if _, err := s.store.Videos().GetWorkspaceVideo(ctx, workspaceID, existing.ID); err == nil {
			return nil, domain.ErrVideoAlreadyInWorkspace
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	return s.library.Watch(ctx, workspaceID, rawURL)
}

// ListVideos returns the videos of a workspace.
func (s *Service) ListVideos(ctx context.Context, workspaceID uuid.UUID) ([]domain.WorkspaceVideo, error) {
	if _, err := s.store.Workspaces().GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.store.Videos().ListVideos(ctx, workspaceID)
}

// GetVideo returns one video of a workspace.
func (s *Service) GetVideo(ctx context.Context, workspaceID uuid.UUID, videoID int64) (*domain.WorkspaceVideo, error) {
	return s.store.Videos().GetWorkspaceVideo(ctx, workspaceID, videoID)
}

// --- Messages ---

// GetMessages returns up to one page of messages with an id above the cursor.
// An empty cursor starts from the beginning. NextCursor is the id of the last
// message returned, or the given cursor when nothing newer exists, so clients
// can keep polling with it.
func (s *Service) GetMessages(ctx context.Context, workspaceID uuid.UUID, cursor string) (*MessagePage, error) {
	var after int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		after = n
	}
	if _, err := s.store.Workspaces().GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}

	msgs, err := s.store.Messages().ListMessagesAfter(ctx, workspaceID, after, s.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	page := &MessagePage{Messages: msgs, NextCursor: cursor}
	if len(msgs) > 0 {
		page.NextCursor = strconv.FormatInt(msgs[len(msgs)-1].ID, 10)
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	return page, nil
}

// SendMessage runs one chat turn and returns the assistant's answer.
func (s *Service) SendMessage(ctx context.Context, workspaceID uuid.UUID, message string) (string, error) {
	return s.SendMessageStream(ctx, workspaceID, message, nil)
}

// SendMessageStream is SendMessage with every agent event also forwarded to
// sink as it is emitted. Persistence failures abort the turn.
func (s *Service) SendMessageStream(ctx context.Context, workspaceID uuid.UUID, message string, sink agent.EventSink) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", domain.ErrEmptyMessage
	}

	unlock := s.locks.Lock(workspaceID)
	defer unlock()

	if _, err := s.store.Workspaces().GetWorkspace(ctx, workspaceID); err != nil {
		return "", err
	}

	history, err := s.loadHistory(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if err := s.persist(ctx, workspaceID, domain.RoleUser, message); err != nil {
		return "", err
	}

	videos, err := s.store.Videos().ListVideos(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("loading videos: %w", err)
	}

	chatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d := &dispatcher{svc: s, workspaceID: workspaceID, next: sink, abort: cancel}
	orch := agent.NewOrchestrator(s.provider, s.cfg.SystemPrompt, s.logger).
		WithTools(s.newExecutor(workspaceID), tools.Definitions()).
		WithContext(contentItems(videos)).
		WithEventSink(d).
		WithObservability(s.obs).
		WithMaxIterations(s.cfg.MaxIterations).
		WithGeneration(s.cfg.MaxTokens, s.cfg.Temperature)

	result, err := orch.Chat(chatCtx, history, message)
	if d.err != nil {
		return "", d.err
	}
	if err != nil {
		return "", err
	}

	// Capped runs and unexpected stop reasons end without a message event.
	if !d.persistedMessage {
		if err := s.persist(ctx, workspaceID, domain.RoleAssistant, result.FinalResponse); err != nil {
			return "", err
		}
	}

	s.logger.InfoContext(ctx, "chat turn completed",
		slog.String("workspace_id", workspaceID.String()),
		slog.Int("iterations", result.Iterations),
		slog.Int("events", len(result.Events)),
		slog.Bool("capped", result.Capped),
	)
	return result.FinalResponse, nil
}

// ExecuteTool runs one tool against a workspace outside of a chat turn and
// applies the side effects of its events. Tool failures are reported in the
// outcome, not as errors.
func (s *Service) ExecuteTool(ctx context.Context, workspaceID uuid.UUID, name string, input map[string]any) (agent.ToolOutcome, error) {
	unlock := s.locks.Lock(workspaceID)
	defer unlock()

	if _, err := s.store.Workspaces().GetWorkspace(ctx, workspaceID); err != nil {
		return agent.ToolOutcome{}, err
	}
	outcome := s.newExecutor(workspaceID).Execute(ctx, name, input)
	d := &dispatcher{svc: s, workspaceID: workspaceID}
	for _, ev := range outcome.Events {
		if err := d.apply(ctx, ev); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (s *Service) newExecutor(workspaceID uuid.UUID) *tools.Executor {
	deps := tools.Deps{
		Watcher:    s.library,
		Videos:     s.store.Videos(),
		Summarizer: s.summarizer,
		Cache:      s.cache,
		Logger:     s.logger,
		Timeout:    s.cfg.ToolTimeout,
	}
	if s.obs != nil {
		deps.Metrics = s.obs.Metrics
		if ts := s.obs.TracerOrNil(); ts != nil {
			deps.Tracer = ts.Tracer()
		}
	}
	return tools.NewExecutor(workspaceID, deps)
}

// loadHistory returns the full ordered history of the workspace, or only its
// most recent turns when HistoryLimit is set. A window never starts on an
// assistant turn.
func (s *Service) loadHistory(ctx context.Context, workspaceID uuid.UUID) ([]llm.Message, error) {
	msgs, err := s.store.Messages().ListMessages(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if limit := s.cfg.HistoryLimit; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		for len(msgs) > 0 && msgs[0].Role != domain.RoleUser {
			msgs = msgs[1:]
		}
	}

	turns := make([]agent.ChatMessage, len(msgs))
	for i, m := range msgs {
		turns[i] = agent.ChatMessage{Role: llm.Role(m.Role), Content: m.Content}
	}
	return agent.History(turns), nil
}

func (s *Service) persist(ctx context.Context, workspaceID uuid.UUID, role domain.Role, content string) error {
	m := &domain.Message{WorkspaceID: workspaceID, Role: role, Content: content}
	if err := s.store.Messages().CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("persisting %s message: %w", role, err)
	}
	return nil
}

// contentItems renders the workspace's videos as model context. A stored
// summary stands in for the transcript, which stays reachable through
// get_transcript.
func contentItems(videos []domain.WorkspaceVideo) []llm.ContentItem {
	items := make([]llm.ContentItem, 0, len(videos))
	for _, wv := range videos {
		if wv.Video == nil {
			continue
		}
		item := llm.ContentItem{
			Source:       wv.Video.URL,
			Title:        wv.Video.Title,
			Author:       wv.Video.Channel,
			Content:      wv.Video.Transcript,
			CreationDate: wv.Video.PublishedAt,
		}
		if wv.Summary != "" {
			item.Content = wv.Summary
		}
		items = append(items, item)
	}
	return items
}
