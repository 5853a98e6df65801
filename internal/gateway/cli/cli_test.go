package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/storage/sqlite"
	"github.com/jkaninda/tubechat/internal/video"
	"github.com/jkaninda/tubechat/internal/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Content:       "It is about a song.",
		StopReason:    llm.StopEndTurn,
		ContentBlocks: []llm.ContentBlock{llm.TextBlock("It is about a song.")},
	}, nil
}

func newREPL(t *testing.T, input string) (*Gateway, *bytes.Buffer) {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "cli.db")}, discardLogger())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	svc := workspace.NewService(store, echoProvider{}, &video.MockFetcher{}, video.MockSummarizer{}, workspace.Config{}, discardLogger())

	ctx := context.Background()
	u, err := svc.CreateUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := svc.CreateWorkspace(ctx, u.ID, "music")
	if err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	return NewGateway(svc, ws.ID, strings.NewReader(input), out, discardLogger()), out
}

func TestREPL_Session(t *testing.T) {
	input := strings.Join([]string{
		"/watch https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"/videos",
		"what is it about?",
		"/history",
		"/bogus",
		"exit",
		"never read",
	}, "\n")
	g, out := newREPL(t, input)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	text := out.String()

	for _, want := range []string{
		`workspace "music"`,
		"Added [",
		"It is about a song.",
		"user: what is it about?",
		"assistant: It is about a song.",
		"unknown command /bogus",
		"Goodbye.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestREPL_EOF(t *testing.T) {
	g, out := newREPL(t, "")
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if strings.Contains(out.String(), "Goodbye.") {
		t.Error("EOF should end the session without the exit message")
	}
}

func TestREPL_UnknownWorkspace(t *testing.T) {
	g, _ := newREPL(t, "")
	g.workspaceID = uuid.New()
	if err := g.Start(context.Background()); err == nil {
		t.Error("expected error for unknown workspace")
	}
}

func TestREPL_Stop(t *testing.T) {
	g, out := newREPL(t, "hello\n")
	_ = g.Stop(context.Background())
	_ = g.Stop(context.Background())
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(out.String(), "Shutting down.") {
		t.Errorf("expected shutdown message:\n%s", out.String())
	}
}
