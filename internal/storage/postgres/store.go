package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/tubechat/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu         sync.Mutex
	users      storage.UserStore
	workspaces storage.WorkspaceStore
	videos     storage.VideoStore
	messages   storage.MessageStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	return autoMigrate(s.pgDB.GormDB())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// --- Sub-store accessors ---

func (s *Store) Users() storage.UserStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = NewUserRepository(s.pgDB.GormDB())
	}
	return s.users
}

func (s *Store) Workspaces() storage.WorkspaceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workspaces == nil {
		s.workspaces = NewWorkspaceRepository(s.pgDB.GormDB())
	}
	return s.workspaces
}

func (s *Store) Videos() storage.VideoStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videos == nil {
		s.videos = NewVideoRepository(s.pgDB.GormDB())
	}
	return s.videos
}

func (s *Store) Messages() storage.MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = NewMessageRepository(s.pgDB.GormDB())
	}
	return s.messages
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
