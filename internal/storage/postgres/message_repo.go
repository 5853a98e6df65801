package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/storage"
)

var _ storage.MessageStore = (*MessageRepository)(nil)

// MessageRepository persists chat messages.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateMessage inserts m and sets its id and creation time.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *domain.Message) error {
	model := toMessageModel(m)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	m.ID = model.ID
	m.CreatedAt = model.CreatedAt
	return nil
}

// ListMessages returns every message of a workspace, oldest first.
func (r *MessageRepository) ListMessages(ctx context.Context, workspaceID uuid.UUID) ([]domain.Message, error) {
	return r.ListMessagesAfter(ctx, workspaceID, 0, 0)
}

// ListMessagesAfter returns messages with an id above afterID, oldest first.
func (r *MessageRepository) ListMessagesAfter(ctx context.Context, workspaceID uuid.UUID, afterID int64, limit int) ([]domain.Message, error) {
	var models []MessageModel
	q := r.db.WithContext(ctx).
		Where("workspace_id = ? AND id > ?", workspaceID, afterID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	out := make([]domain.Message, len(models))
	for i := range models {
		out[i] = toMessageDomain(&models[i])
	}
	return out, nil
}
