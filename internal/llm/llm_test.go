package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (*Response, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SendMessage(ctx context.Context, _ *Request) (*Response, error) {
	n := int(s.calls.Add(1))
	return s.fn(ctx, n)
}

// --- Fallback ---

func TestFallbackProvider_UsesSecondOnFailure(t *testing.T) {
	first := &stubProvider{name: "a", fn: func(context.Context, int) (*Response, error) {
		return nil, errors.New("boom")
	}}
	second := &stubProvider{name: "b", fn: func(context.Context, int) (*Response, error) {
		return &Response{Content: "ok", StopReason: StopEndTurn}, nil
	}}

	f := NewFallbackProvider([]Provider{first, second}, discardLogger())
	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Content)
	}
	if f.Name() != "a>b" {
		t.Errorf("name = %q, want a>b", f.Name())
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	fail := func(context.Context, int) (*Response, error) { return nil, errors.New("down") }
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", fn: fail},
		&stubProvider{name: "b", fn: fail},
	}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a: down") || !strings.Contains(err.Error(), "b: down") {
		t.Errorf("error should name both providers, got %q", err)
	}
}

// --- Retry ---

func TestRetryProvider_RetriesTimeoutOnce(t *testing.T) {
	p := &stubProvider{name: "slow", fn: func(ctx context.Context, call int) (*Response, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Response{Content: "second"}, nil
	}}

	r := NewRetryProvider(p, 20*time.Millisecond, discardLogger())
	resp, err := r.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "second" {
		t.Errorf("content = %q, want second", resp.Content)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRetryProvider_GivesUpAfterOneRetry(t *testing.T) {
	p := &stubProvider{name: "slow", fn: func(ctx context.Context, _ int) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	r := NewRetryProvider(p, 10*time.Millisecond, discardLogger())
	_, err := r.SendMessage(context.Background(), &Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRetryProvider_NoRetryOnOtherErrors(t *testing.T) {
	p := &stubProvider{name: "bad", fn: func(context.Context, int) (*Response, error) {
		return nil, errors.New("API error (status 400)")
	}}

	r := NewRetryProvider(p, time.Second, discardLogger())
	if _, err := r.SendMessage(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

// --- Types ---

func TestContentItem_Render(t *testing.T) {
	item := ContentItem{
		Source:       "https://youtu.be/ABCDEFGHIJK",
		Title:        "Go Concurrency",
		Author:       "gopher",
		Content:      "[00:01] hello",
		CreationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	want := "creation date: 2024-03-01\nsource: https://youtu.be/ABCDEFGHIJK\nauthor: gopher\ntitle: Go Concurrency\ncontent: [00:01] hello"
	if got := item.Render(); got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestResponse_FirstToolUse(t *testing.T) {
	resp := &Response{ContentBlocks: []ContentBlock{
		TextBlock("let me check"),
		ToolUseBlock("tu_1", "list_videos", nil),
		ToolUseBlock("tu_2", "get_transcript", map[string]any{"id": 1}),
	}}
	b, ok := resp.FirstToolUse()
	if !ok || b.ID != "tu_1" {
		t.Fatalf("FirstToolUse() = %+v, %v", b, ok)
	}
	if n := len(resp.ToolUseBlocks()); n != 2 {
		t.Errorf("ToolUseBlocks() len = %d, want 2", n)
	}
}

func TestResponse_RawStringFallsBackToJSON(t *testing.T) {
	resp := &Response{StopReason: StopEndTurn, ContentBlocks: []ContentBlock{TextBlock("a"), TextBlock("b")}}
	raw := resp.RawString()
	if !strings.Contains(raw, `"stop_reason":"end_turn"`) {
		t.Errorf("RawString() = %s", raw)
	}
}
