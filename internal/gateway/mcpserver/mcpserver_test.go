package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	workspaceID uuid.UUID
	name        string
	input       map[string]any
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeRunner) ExecuteTool(_ context.Context, workspaceID uuid.UUID, name string, input map[string]any) (agent.ToolOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{workspaceID, name, input})
	f.mu.Unlock()
	if name == tools.NameGetTranscript {
		return agent.ToolOutcome{Output: "VideoNotFound: no video with id 9", IsError: true}, nil
	}
	return agent.ToolOutcome{Output: "Videos in workspace: none"}, nil
}

func newClient(t *testing.T, runner ToolRunner, wsID uuid.UUID) *mcpclient.Client {
	t.Helper()
	g, err := NewGateway(runner, wsID, "test", discardLogger())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	c, err := mcpclient.NewInProcessClient(g.Server())
	if err != nil {
		t.Fatalf("in-process client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "0"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}

func text(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestListTools(t *testing.T) {
	c := newClient(t, &fakeRunner{}, uuid.New())

	resp, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var got []string
	for _, tool := range resp.Tools {
		got = append(got, tool.Name)
	}
	sort.Strings(got)
	want := tools.Names()
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", got, want)
	}
}

func TestCallTool(t *testing.T) {
	runner := &fakeRunner{}
	wsID := uuid.New()
	c := newClient(t, runner, wsID)
	ctx := context.Background()

	req := mcp.CallToolRequest{}
	req.Params.Name = tools.NameListVideos
	req.Params.Arguments = map[string]any{}
	res, err := c.CallTool(ctx, req)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || text(res) != "Videos in workspace: none" {
		t.Errorf("result = %+v", res)
	}

	req.Params.Name = tools.NameGetTranscript
	req.Params.Arguments = map[string]any{"id": 9}
	res, err = c.CallTool(ctx, req)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.Contains(text(res), "VideoNotFound") {
		t.Errorf("expected tool error, got %+v", res)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(runner.calls))
	}
	if runner.calls[1].workspaceID != wsID || runner.calls[1].input["id"] == nil {
		t.Errorf("call = %+v", runner.calls[1])
	}
}
