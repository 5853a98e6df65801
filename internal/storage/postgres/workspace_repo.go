package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/storage"
)

var _ storage.WorkspaceStore = (*WorkspaceRepository)(nil)

// WorkspaceRepository manages workspaces.
type WorkspaceRepository struct {
	db *gorm.DB
}

// NewWorkspaceRepository creates a WorkspaceRepository.
func NewWorkspaceRepository(db *gorm.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// CreateWorkspace inserts ws, assigning an id when ws.ID is nil.
// The owning user must exist.
func (r *WorkspaceRepository) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	now := time.Now().UTC()
	m := WorkspaceModel{
		ID:        ws.ID,
		UserID:    ws.UserID,
		Name:      ws.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workspace %s: %w", ws.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("creating workspace: %w", err)
	}
	ws.CreatedAt = m.CreatedAt
	return nil
}

// GetWorkspace retrieves a workspace by id.
func (r *WorkspaceRepository) GetWorkspace(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	var m WorkspaceModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return toWorkspaceDomain(&m), nil
}

// ListWorkspaces returns the workspaces of a user, oldest first.
func (r *WorkspaceRepository) ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]domain.Workspace, error) {
	var models []WorkspaceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	out := make([]domain.Workspace, len(models))
	for i := range models {
		out[i] = *toWorkspaceDomain(&models[i])
	}
	return out, nil
}

// DeleteWorkspace removes a workspace, its messages and its video links in
// one transaction.
func (r *WorkspaceRepository) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workspace_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if err := tx.Where("workspace_id = ?", id).Delete(&WorkspaceVideoModel{}).Error; err != nil {
			return fmt.Errorf("deleting video links: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&WorkspaceModel{})
		if res.Error != nil {
			return fmt.Errorf("deleting workspace: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
