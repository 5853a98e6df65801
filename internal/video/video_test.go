package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- URL handling ---

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1&index=2", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://youtu.be/ABCDEFGHIJK", "https://youtu.be/ABCDEFGHIJK"},
		{"  https://youtu.be/ABCDEFGHIJK  ", "https://youtu.be/ABCDEFGHIJK"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/ABCDEFGHIJK", "ABCDEFGHIJK"},
		{"https://www.youtube.com/embed/A_b-C_d-E_f?start=3", "A_b-C_d-E_f"},
	}
	for _, tt := range tests {
		got, err := ExtractID(tt.url)
		if err != nil {
			t.Errorf("ExtractID(%q) error: %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	if _, err := ExtractID("not a video"); !errors.Is(err, ErrVideoIDUnparsable) {
		t.Errorf("expected ErrVideoIDUnparsable, got %v", err)
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript("Talk", []Segment{
		{Start: 0, Text: "hello"},
		{Start: 65400 * time.Millisecond, Text: "world"},
	})
	want := "Transcript for: Talk\n\n[00:00] hello\n[01:05] world\n"
	if got != want {
		t.Errorf("FormatTranscript() = %q, want %q", got, want)
	}
}

func TestFetchError(t *testing.T) {
	err := error(&FetchError{URL: "u", Title: "Talk", Err: ErrTranscriptsDisabled})
	if !errors.Is(err, ErrTranscriptsDisabled) {
		t.Error("FetchError should unwrap to its cause")
	}
	if err.Error() != "Error: Transcripts are disabled for this video.\nVideo Title: Talk" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

// --- YouTube client ---

func youtubeServer(t *testing.T, caption string, timedText string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "yt-key" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
			return
		}
		if r.URL.Query().Get("id") != "ABCDEFGHIJK" {
			_, _ = io.WriteString(w, `{"items":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{map[string]any{
				"snippet": map[string]any{
					"title":        "Go Concurrency",
					"channelTitle": "gopher",
					"publishedAt":  "2024-03-01T12:00:00Z",
				},
				"contentDetails": map[string]any{"duration": "PT10M", "caption": caption},
			}},
		})
	})
	mux.HandleFunc("/videoCategories", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":[]}`)
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") != "json3" {
			t.Errorf("expected json3 format, got %q", r.URL.Query().Get("fmt"))
		}
		_, _ = io.WriteString(w, timedText)
	})
	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server, key string) *YouTubeClient {
	return NewYouTubeClient(key, discardLogger(),
		WithDataAPIURL(srv.URL),
		WithTimedTextURL(srv.URL+"/timedtext"),
	)
}

func TestYouTubeClient_GetVideo(t *testing.T) {
	srv := youtubeServer(t, "true", `{"events":[{"tStartMs":0,"segs":[{"utf8":"hello "},{"utf8":"there"}]},{"tStartMs":61000,"segs":[{"utf8":"\n"}]},{"tStartMs":62000,"segs":[{"utf8":"bye"}]}]}`)
	defer srv.Close()

	v, err := newTestClient(srv, "yt-key").GetVideo(context.Background(), "https://youtu.be/ABCDEFGHIJK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Title != "Go Concurrency" || v.Author != "gopher" || v.Duration != "PT10M" {
		t.Errorf("unexpected metadata: %+v", v)
	}
	if !v.PublishedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected publish date %v", v.PublishedAt)
	}
	want := "Transcript for: Go Concurrency\n\n[00:00] hello there\n[01:02] bye\n"
	if v.Transcript != want {
		t.Errorf("transcript = %q, want %q", v.Transcript, want)
	}
}

func TestYouTubeClient_TranscriptsDisabled(t *testing.T) {
	srv := youtubeServer(t, "false", "")
	defer srv.Close()

	_, err := newTestClient(srv, "yt-key").GetVideo(context.Background(), "https://youtu.be/ABCDEFGHIJK")
	if !errors.Is(err, ErrTranscriptsDisabled) {
		t.Fatalf("expected ErrTranscriptsDisabled, got %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Title != "Go Concurrency" {
		t.Errorf("expected FetchError carrying the title, got %v", err)
	}
}

func TestYouTubeClient_NoTranscript(t *testing.T) {
	srv := youtubeServer(t, "true", "")
	defer srv.Close()

	_, err := newTestClient(srv, "yt-key").GetVideo(context.Background(), "https://youtu.be/ABCDEFGHIJK")
	if !errors.Is(err, ErrNoTranscriptFound) {
		t.Fatalf("expected ErrNoTranscriptFound, got %v", err)
	}
}

func TestYouTubeClient_Unparsable(t *testing.T) {
	srv := youtubeServer(t, "true", "")
	defer srv.Close()

	_, err := newTestClient(srv, "yt-key").GetVideo(context.Background(), "https://example.com")
	if !errors.Is(err, ErrVideoIDUnparsable) {
		t.Fatalf("expected ErrVideoIDUnparsable, got %v", err)
	}
}

func TestYouTubeClient_APIError(t *testing.T) {
	srv := youtubeServer(t, "true", "")
	defer srv.Close()

	_, err := newTestClient(srv, "wrong").GetVideo(context.Background(), "https://youtu.be/ABCDEFGHIJK")
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected API error carrying the message, got %v", err)
	}
}

func TestYouTubeClient_Ping(t *testing.T) {
	srv := youtubeServer(t, "true", "")
	defer srv.Close()

	if err := newTestClient(srv, "yt-key").Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
}

// --- Summarizer ---

func TestClaudeSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.System) != 1 || req.System[0].Text != SummaryPrompt {
			t.Errorf("unexpected system prompt: %+v", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"a short summary"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer srv.Close()

	s := NewClaudeSummarizer(SummarizerConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, discardLogger())
	got, err := s.Summarize(context.Background(), "Transcript for: x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a short summary" {
		t.Errorf("summary = %q", got)
	}
}

func TestMocks(t *testing.T) {
	f := &MockFetcher{}
	v, err := f.GetVideo(context.Background(), "https://youtu.be/ABCDEFGHIJK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Transcript != "this is a transcript" || v.Title != "mock video" || v.Author != "mock author" {
		t.Errorf("unexpected mock video: %+v", v)
	}
	if f.Calls() != 1 {
		t.Errorf("calls = %d, want 1", f.Calls())
	}
	if s, _ := (MockSummarizer{}).Summarize(context.Background(), ""); s != MockSummary {
		t.Errorf("unexpected mock summary %q", s)
	}
}
