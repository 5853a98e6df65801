// Package domain defines the entity types shared across the system.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned when a workspace name is empty.
	ErrInvalidName = errors.New("workspace name must not be empty")

	// ErrVideoAlreadyInWorkspace is returned when a video is explicitly added
	// to a workspace that already holds it.
	ErrVideoAlreadyInWorkspace = errors.New("video already exists in workspace")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrEmptyMessage is returned for blank chat messages.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// Role identifies the author of a persisted chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User owns workspaces.
type User struct {
	ID        uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace is a named container scoping a user's videos and chat history.
type Workspace struct {
	ID        uuid.UUID `json:"workspace_id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateName trims and checks a workspace name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Video is a fetched video, shared by every workspace that references it.
// URL is the normalized URL and is unique across the store.
type Video struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Channel     string    `json:"channel"`
	Transcript  string    `json:"-"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"publish_date,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// String renders the short description used in tool confirmations.
func (v *Video) String() string {
	return "URL: " + v.URL + "\nTitle: " + v.Title + "\nChannel: " + v.Channel
}

// WorkspaceVideo associates a video with a workspace. Summary is the
// workspace-specific summary produced by the summarize tool.
type WorkspaceVideo struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	VideoID     int64     `json:"video_id"`
	Summary     string    `json:"summary,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	Video       *Video    `json:"video,omitempty"`
}

// Message is a persisted chat turn. IDs increase monotonically and double
// as the pagination watermark.
type Message struct {
	ID          int64     `json:"message_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
