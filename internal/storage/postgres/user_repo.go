package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/storage"
)

var _ storage.UserStore = (*UserRepository)(nil)

// UserRepository manages user records.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts u, assigning an id when u.ID is nil.
// A taken id yields domain.ErrAlreadyExists.
func (r *UserRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", u.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking user: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrAlreadyExists)
	}

	m := UserModel{ID: u.ID, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	u.CreatedAt = m.CreatedAt
	return nil
}

// GetUser retrieves a user by id.
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return toUserDomain(&m), nil
}
