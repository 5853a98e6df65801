package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/storage/sqlite"
	"github.com/jkaninda/tubechat/internal/tools"
	"github.com/jkaninda/tubechat/internal/video"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns queued responses in order, then a plain "done".
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	always    *llm.Response
	err       error
	requests  []*llm.Request
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, &cp)
	if p.err != nil {
		return nil, p.err
	}
	if p.always != nil {
		return p.always, nil
	}
	if len(p.responses) == 0 {
		return textResponse("done"), nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:       text,
		StopReason:    llm.StopEndTurn,
		ContentBlocks: []llm.ContentBlock{llm.TextBlock(text)},
	}
}

func toolResponse(id, name string, input map[string]any) *llm.Response {
	return &llm.Response{
		StopReason:    llm.StopToolUse,
		ContentBlocks: []llm.ContentBlock{llm.ToolUseBlock(id, name, input)},
	}
}

type fixture struct {
	svc      *Service
	provider *scriptedProvider
	fetcher  *video.MockFetcher
	user     *domain.User
	ws       *domain.Workspace
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "ws.db")}, discardLogger())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	f := &fixture{provider: &scriptedProvider{}, fetcher: &video.MockFetcher{}}
	f.svc = NewService(store, f.provider, f.fetcher, video.MockSummarizer{}, cfg, discardLogger()).
		WithToolCache(agent.NewToolCache(time.Minute))

	ctx := context.Background()
	if f.user, err = f.svc.CreateUser(ctx); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if f.ws, err = f.svc.CreateWorkspace(ctx, f.user.ID, "research"); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	return f
}

func (f *fixture) messages(t *testing.T) []domain.Message {
	t.Helper()
	page, err := f.svc.GetMessages(context.Background(), f.ws.ID, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	return page.Messages
}

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// --- Workspaces ---

func TestCreateWorkspace_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.svc.CreateWorkspace(ctx, f.user.ID, "   "); !errors.Is(err, domain.ErrInvalidName) {
		t.Errorf("blank name: expected ErrInvalidName, got %v", err)
	}
	if _, err := f.svc.CreateWorkspace(ctx, uuid.New(), "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown user: expected ErrNotFound, got %v", err)
	}

	ws, err := f.svc.CreateWorkspace(ctx, f.user.ID, "  padded  ")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ws.Name != "padded" {
		t.Errorf("name = %q, want trimmed", ws.Name)
	}
	list, err := f.svc.ListWorkspaces(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 workspaces, got %d", len(list))
	}
}

// --- Chat ---

func TestSendMessage_PlainAnswer(t *testing.T) {
	f := newFixture(t, Config{SystemPrompt: "sys"})
	f.provider.responses = []*llm.Response{textResponse("hello there")}

	reply, err := f.svc.SendMessage(context.Background(), f.ws.ID, "  hi  ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}

	msgs := f.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "hello there" {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}

	req := f.provider.requests[0]
	if req.SystemPrompt != "sys" || len(req.Tools) != len(tools.Definitions()) {
		t.Errorf("unexpected request: system=%q tools=%d", req.SystemPrompt, len(req.Tools))
	}
}

func TestSendMessage_WatchThenAnswer(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.responses = []*llm.Response{
		toolResponse("toolu_1", tools.NameWatchVideo, map[string]any{"url": testURL + "&t=3"}),
		textResponse("I watched it."),
	}

	var sunk []agent.EventType
	sink := agent.EventSinkFunc(func(_ context.Context, ev agent.Event) { sunk = append(sunk, ev.Type) })

	reply, err := f.svc.SendMessageStream(context.Background(), f.ws.ID, "watch this", sink)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "I watched it." {
		t.Errorf("reply = %q", reply)
	}

	want := []agent.EventType{agent.EventToolUse, agent.EventVideoWatched, agent.EventToolResult, agent.EventMessage}
	if len(sunk) != len(want) {
		t.Fatalf("events = %v, want %v", sunk, want)
	}
	for i := range want {
		if sunk[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, sunk[i], want[i])
		}
	}

	msgs := f.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("expected user + tool_use + tool_result + message, got %d: %+v", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[1].Content, "Using tool watch_video") {
		t.Errorf("unexpected tool_use rendition: %q", msgs[1].Content)
	}
	if !strings.HasPrefix(msgs[2].Content, "Tool watch_video result: Watched URL: "+testURL) {
		t.Errorf("unexpected tool_result rendition: %q", msgs[2].Content)
	}
	if msgs[3].Content != "I watched it." {
		t.Errorf("final message = %q", msgs[3].Content)
	}

	videos, err := f.svc.ListVideos(context.Background(), f.ws.ID)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(videos) != 1 || videos[0].Video.URL != testURL {
		t.Errorf("unexpected videos: %+v", videos)
	}

	// The tool result was fed back with the originating id.
	second := f.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleUser || len(last.ContentBlocks) != 1 || last.ContentBlocks[0].ToolUseID != "toolu_1" {
		t.Errorf("unexpected tool result turn: %+v", last)
	}
}

func TestSendMessage_SummaryPersisted(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	v, err := f.svc.AddVideo(ctx, f.ws.ID, testURL)
	if err != nil {
		t.Fatalf("AddVideo: %v", err)
	}

	f.provider.responses = []*llm.Response{
		toolResponse("toolu_1", tools.NameSummarizeVideos, map[string]any{"id": float64(v.ID)}),
		textResponse(video.MockSummary),
	}
	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "summarize it"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	wv, err := f.svc.GetVideo(ctx, f.ws.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if wv.Summary != video.MockSummary {
		t.Errorf("summary = %q, want %q", wv.Summary, video.MockSummary)
	}

	// The next turn sends the summary as context instead of the transcript.
	f.provider.responses = []*llm.Response{textResponse("ok")}
	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "thanks"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	req := f.provider.requests[len(f.provider.requests)-1]
	if len(req.Context) != 1 || req.Context[0].Content != video.MockSummary {
		t.Errorf("unexpected context: %+v", req.Context)
	}
}

func TestSendMessage_CappedPersistsFinalOnce(t *testing.T) {
	f := newFixture(t, Config{MaxIterations: 2})
	f.provider.always = toolResponse("toolu_x", tools.NameListVideos, map[string]any{})

	reply, err := f.svc.SendMessage(context.Background(), f.ws.ID, "loop")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != agent.CappedResponse {
		t.Errorf("reply = %q", reply)
	}

	msgs := f.messages(t)
	// user + 2 x (tool_use + tool_result) + capped answer.
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	if msgs[5].Content != agent.CappedResponse {
		t.Errorf("last message = %q", msgs[5].Content)
	}
	count := 0
	for _, m := range msgs {
		if m.Content == agent.CappedResponse {
			count++
		}
	}
	if count != 1 {
		t.Errorf("capped response persisted %d times", count)
	}
}

func TestSendMessage_ReplaysHistory(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.provider.responses = []*llm.Response{textResponse("first answer"), textResponse("second answer")}

	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "second"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := f.provider.requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in second request, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "first answer" || msgs[2].Content != "second" {
		t.Errorf("unexpected replay: %+v", msgs)
	}
}

func TestSendMessage_ReplaysFullHistoryByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	const turns = 30
	for i := range turns {
		if _, err := f.svc.SendMessage(ctx, f.ws.ID, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
	}
	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "last"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := f.provider.requests[len(f.provider.requests)-1].Messages
	if len(msgs) != 2*turns+1 {
		t.Fatalf("expected %d messages, got %d", 2*turns+1, len(msgs))
	}
	if msgs[0].Content != "turn 0" || msgs[len(msgs)-1].Content != "last" {
		t.Errorf("history not replayed from the start: first=%q last=%q", msgs[0].Content, msgs[len(msgs)-1].Content)
	}
}

func TestSendMessage_HistoryWindow(t *testing.T) {
	f := newFixture(t, Config{HistoryLimit: 3})
	ctx := context.Background()

	for i := range 3 {
		if _, err := f.svc.SendMessage(ctx, f.ws.ID, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
	}

	// The last 3 stored messages start on an assistant reply, which is dropped.
	msgs := f.provider.requests[len(f.provider.requests)-1].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "turn 1" || msgs[2].Content != "turn 2" {
		t.Errorf("unexpected window: %+v", msgs)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "   "); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("blank message: expected ErrEmptyMessage, got %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, uuid.New(), "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown workspace: expected ErrNotFound, got %v", err)
	}

	f.provider.err = errors.New("upstream down")
	_, err := f.svc.SendMessage(ctx, f.ws.ID, "hi")
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected provider error, got %v", err)
	}
	msgs := f.messages(t)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Errorf("only the user message should be persisted, got %+v", msgs)
	}
}

func TestSendMessage_SerializedPerWorkspace(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.delay = 20 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SendMessage(ctx, f.ws.ID, "hi"); err != nil {
				t.Errorf("SendMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.provider.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent model calls = %d, want 1", got)
	}
	if n := len(f.messages(t)); n != 8 {
		t.Errorf("expected 8 messages, got %d", n)
	}
	if f.svc.locks.size() != 0 {
		t.Error("lock entries leaked")
	}
}

// --- Videos ---

func TestAddVideo_Dedup(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	v, err := f.svc.AddVideo(ctx, f.ws.ID, testURL)
	if err != nil {
		t.Fatalf("AddVideo: %v", err)
	}
	if _, err := f.svc.AddVideo(ctx, f.ws.ID, testURL+"&list=PL1"); !errors.Is(err, domain.ErrVideoAlreadyInWorkspace) {
		t.Errorf("expected ErrVideoAlreadyInWorkspace, got %v", err)
	}

	other, err := f.svc.CreateWorkspace(ctx, f.user.ID, "other")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	v2, err := f.svc.AddVideo(ctx, other.ID, testURL)
	if err != nil {
		t.Fatalf("AddVideo other workspace: %v", err)
	}
	if v2.ID != v.ID {
		t.Errorf("expected shared video id %d, got %d", v.ID, v2.ID)
	}
	if f.fetcher.Calls() != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.fetcher.Calls())
	}

	if _, err := f.svc.AddVideo(ctx, f.ws.ID, "https://example.com/x"); !errors.Is(err, video.ErrVideoIDUnparsable) {
		t.Errorf("expected ErrVideoIDUnparsable, got %v", err)
	}
}

func TestExecuteTool_AppliesSummary(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	v, err := f.svc.AddVideo(ctx, f.ws.ID, testURL)
	if err != nil {
		t.Fatalf("AddVideo: %v", err)
	}
	out, err := f.svc.ExecuteTool(ctx, f.ws.ID, tools.NameSummarizeVideos, map[string]any{"id": float64(v.ID)})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if out.IsError || out.Output != video.MockSummary {
		t.Fatalf("outcome = %+v", out)
	}
	wv, err := f.svc.GetVideo(ctx, f.ws.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if wv.Summary != video.MockSummary {
		t.Errorf("summary not persisted: %q", wv.Summary)
	}

	bad, err := f.svc.ExecuteTool(ctx, f.ws.ID, "delete_everything", nil)
	if err != nil || !bad.IsError {
		t.Errorf("unknown tool: outcome=%+v err=%v", bad, err)
	}
	if _, err := f.svc.ExecuteTool(ctx, uuid.New(), tools.NameListVideos, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown workspace: %v", err)
	}
}

func TestDeleteWorkspace(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.svc.SendMessage(ctx, f.ws.ID, "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.svc.DeleteWorkspace(ctx, f.ws.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if _, err := f.svc.GetWorkspace(ctx, f.ws.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.GetMessages(ctx, f.ws.ID, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Pagination ---

func TestGetMessages_Cursor(t *testing.T) {
	f := newFixture(t, Config{PageSize: 3})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.svc.SendMessage(ctx, f.ws.ID, "hi"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	first, err := f.svc.GetMessages(ctx, f.ws.ID, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(first.Messages) != 3 || first.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	second, err := f.svc.GetMessages(ctx, f.ws.ID, first.NextCursor)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(second.Messages) != 1 {
		t.Fatalf("expected 1 message on second page, got %d", len(second.Messages))
	}
	if second.Messages[0].ID <= first.Messages[2].ID {
		t.Error("second page overlaps the first")
	}

	empty, err := f.svc.GetMessages(ctx, f.ws.ID, second.NextCursor)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(empty.Messages) != 0 || empty.NextCursor != second.NextCursor {
		t.Errorf("unexpected tail page: %+v", empty)
	}

	if _, err := f.svc.GetMessages(ctx, f.ws.ID, "abc"); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

// --- keyedMutex ---

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	a, b := uuid.New(), uuid.New()

	unlockA := k.Lock(a)
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock(b)
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	if k.size() != 0 {
		t.Errorf("size = %d, want 0", k.size())
	}
}
