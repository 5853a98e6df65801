package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func testWorkspace(t *testing.T, s *Store) *domain.Workspace {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{}
	if err := s.Users().CreateUser(ctx, u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	ws := &domain.Workspace{UserID: u.ID, Name: "research"}
	if err := s.Workspaces().CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("creating workspace: %v", err)
	}
	return ws
}

// --- Users and workspaces ---

func TestUsers_CreateGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := &domain.User{}
	if err := s.Users().CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == uuid.Nil {
		t.Fatal("expected an assigned id")
	}
	got, err := s.Users().GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got %s, want %s", got.ID, u.ID)
	}

	if err := s.Users().CreateUser(ctx, &domain.User{ID: u.ID}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate id: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.Users().GetUser(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkspaces_ListAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ws := testWorkspace(t, s)

	second := &domain.Workspace{UserID: ws.UserID, Name: "music"}
	if err := s.Workspaces().CreateWorkspace(ctx, second); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	list, err := s.Workspaces().ListWorkspaces(ctx, ws.UserID)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(list))
	}

	if _, err := s.Videos().SaveVideo(ctx, ws.ID, &domain.Video{URL: "https://youtu.be/a"}); err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}
	if err := s.Messages().CreateMessage(ctx, &domain.Message{WorkspaceID: ws.ID, Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := s.Workspaces().DeleteWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if _, err := s.Workspaces().GetWorkspace(ctx, ws.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	msgs, _ := s.Messages().ListMessages(ctx, ws.ID)
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	// The video itself is shared and stays.
	if _, err := s.Videos().GetVideoByURL(ctx, "https://youtu.be/a"); err != nil {
		t.Errorf("video should survive workspace delete: %v", err)
	}
	if err := s.Workspaces().DeleteWorkspace(ctx, ws.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

// --- Videos ---

func TestVideos_SaveIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := testWorkspace(t, s)
	b := testWorkspace(t, s)

	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	v := &domain.Video{
		URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:       "title",
		Channel:     "channel",
		Transcript:  "transcript",
		PublishedAt: published,
		Duration:    "PT3M",
	}

	id1, err := s.Videos().SaveVideo(ctx, a.ID, v)
	if err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}
	id2, err := s.Videos().SaveVideo(ctx, a.ID, v)
	if err != nil {
		t.Fatalf("SaveVideo again: %v", err)
	}
	id3, err := s.Videos().SaveVideo(ctx, b.ID, v)
	if err != nil {
		t.Fatalf("SaveVideo other workspace: %v", err)
	}
	if id1 != id2 || id2 != id3 {
		t.Errorf("ids differ: %d %d %d", id1, id2, id3)
	}

	listA, err := s.Videos().ListVideos(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(listA) != 1 {
		t.Fatalf("expected 1 video in workspace, got %d", len(listA))
	}
	got := listA[0].Video
	if got == nil || got.Title != "title" || got.Transcript != "transcript" || !got.PublishedAt.Equal(published) {
		t.Errorf("unexpected video: %+v", got)
	}

	stored, err := s.Videos().GetVideoByURL(ctx, v.URL)
	if err != nil {
		t.Fatalf("GetVideoByURL: %v", err)
	}
	if stored.ID != id1 {
		t.Errorf("GetVideoByURL id = %d, want %d", stored.ID, id1)
	}
}

func TestVideos_ConcurrentSaveConverges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ws := testWorkspace(t, s)

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.Videos().SaveVideo(ctx, ws.ID, &domain.Video{URL: "https://youtu.be/same"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("save %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("save %d returned id %d, want %d", i, ids[i], ids[0])
		}
	}
	list, _ := s.Videos().ListVideos(ctx, ws.ID)
	if len(list) != 1 {
		t.Errorf("expected 1 link, got %d", len(list))
	}
}

func TestVideos_WorkspaceScopingAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := testWorkspace(t, s)
	b := testWorkspace(t, s)

	id, err := s.Videos().SaveVideo(ctx, a.ID, &domain.Video{URL: "https://youtu.be/x", Transcript: "t"})
	if err != nil {
		t.Fatalf("SaveVideo: %v", err)
	}
	if _, err := s.Videos().GetWorkspaceVideo(ctx, b.ID, id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("video must not be visible from another workspace, got %v", err)
	}
	if err := s.Videos().SaveSummary(ctx, b.ID, id, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SaveSummary on unlinked video: expected ErrNotFound, got %v", err)
	}

	if err := s.Videos().SaveSummary(ctx, a.ID, id, "short summary"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	wv, err := s.Videos().GetWorkspaceVideo(ctx, a.ID, id)
	if err != nil {
		t.Fatalf("GetWorkspaceVideo: %v", err)
	}
	if wv.Summary != "short summary" || wv.Video.Summary != "short summary" {
		t.Errorf("summary not stored: %+v", wv)
	}
}

// --- Messages ---

func TestMessages_Watermark(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ws := testWorkspace(t, s)
	other := testWorkspace(t, s)

	var ids []int64
	for _, c := range []string{"one", "two", "three"} {
		m := &domain.Message{WorkspaceID: ws.ID, Role: domain.RoleUser, Content: c}
		if err := s.Messages().CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}
	if err := s.Messages().CreateMessage(ctx, &domain.Message{WorkspaceID: other.ID, Role: domain.RoleUser, Content: "elsewhere"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if !(ids[0] < ids[1] && ids[1] < ids[2]) {
		t.Fatalf("ids not increasing: %v", ids)
	}

	all, err := s.Messages().ListMessages(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 3 || all[0].Content != "one" || all[2].Content != "three" {
		t.Errorf("unexpected messages: %+v", all)
	}

	after, err := s.Messages().ListMessagesAfter(ctx, ws.ID, ids[0], 1)
	if err != nil {
		t.Fatalf("ListMessagesAfter: %v", err)
	}
	if len(after) != 1 || after[0].Content != "two" {
		t.Errorf("unexpected page: %+v", after)
	}
}

func TestStore_PingAndDriver(t *testing.T) {
	s := testStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Driver() != "sqlite" {
		t.Errorf("Driver = %q", s.Driver())
	}
}
