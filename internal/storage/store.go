// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/domain"
)

// Store is the unified persistence interface for TubeChat.
// It provides access to all domain-specific sub-stores through accessor methods.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors. The returned stores share the same underlying connection.
	Users() UserStore
	Workspaces() WorkspaceStore
	Videos() VideoStore
	Messages() MessageStore

	// Ping checks the connection for health probes.
	Ping(ctx context.Context) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// UserStore persists users. Lookups of missing records return domain.ErrNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// WorkspaceStore persists workspaces.
type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws *domain.Workspace) error
	GetWorkspace(ctx context.Context, id uuid.UUID) (*domain.Workspace, error)
	ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error)

	// DeleteWorkspace removes the workspace with its messages and video links.
	// Videos themselves are shared and kept.
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error
}

// VideoStore persists videos and their workspace associations.
type VideoStore interface {
	GetVideoByURL(ctx context.Context, url string) (*domain.Video, error)
	GetWorkspaceVideo(ctx context.Context, workspaceID uuid.UUID, videoID int64) (*domain.WorkspaceVideo, error)

	// SaveVideo inserts the video if its URL is unknown, links it to the
	// workspace if not linked yet, and returns the stored video id. Concurrent
	// calls for the same URL converge on one row.
	SaveVideo(ctx context.Context, workspaceID uuid.UUID, v *domain.Video) (int64, error)

	SaveSummary(ctx context.Context, workspaceID uuid.UUID, videoID int64, summary string) error
	ListVideos(ctx context.Context, workspaceID uuid.UUID) ([]domain.WorkspaceVideo, error)
}

// MessageStore persists chat messages. IDs are assigned by the store and
// increase monotonically.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	ListMessages(ctx context.Context, workspaceID uuid.UUID) ([]domain.Message, error)

	// ListMessagesAfter returns up to limit messages with an id greater than
	// afterID, oldest first. limit <= 0 means no limit.
	ListMessagesAfter(ctx context.Context, workspaceID uuid.UUID, afterID int64, limit int) ([]domain.Message, error)
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: ./data/tubechat.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "data/tubechat.db"
