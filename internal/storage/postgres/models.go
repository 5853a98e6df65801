package postgres

import (
	"time"

	"github.com/google/uuid"
)

// UserModel maps to the "users" table.
type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

// WorkspaceModel maps to the "workspaces" table.
type WorkspaceModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	User      UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorkspaceModel) TableName() string { return "workspaces" }

// VideoModel maps to the "videos" table. Rows are shared by every workspace
// that watched the same normalized URL.
type VideoModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	URL         string `gorm:"not null;uniqueIndex"`
	Title       string `gorm:"not null;default:''"`
	Channel     string `gorm:"not null;default:''"`
	Transcript  string `gorm:"type:text;not null;default:''"`
	PublishedAt *time.Time
	Duration    string
	CreatedAt   time.Time
}

func (VideoModel) TableName() string { return "videos" }

// WorkspaceVideoModel maps to the "workspace_videos" join table.
type WorkspaceVideoModel struct {
	WorkspaceID uuid.UUID      `gorm:"type:uuid;primaryKey"`
	VideoID     int64          `gorm:"primaryKey;index"`
	Workspace   WorkspaceModel `gorm:"foreignKey:WorkspaceID;constraint:OnDelete:CASCADE"`
	Video       VideoModel     `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
	Summary     string         `gorm:"type:text"`
	CreatedAt   time.Time
}

func (WorkspaceVideoModel) TableName() string { return "workspace_videos" }

// MessageModel maps to the "messages" table. The auto-increment id doubles
// as the pagination watermark.
type MessageModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	WorkspaceID uuid.UUID      `gorm:"type:uuid;not null;index"`
	Workspace   WorkspaceModel `gorm:"foreignKey:WorkspaceID;constraint:OnDelete:CASCADE"`
	Role        string         `gorm:"not null"`
	Content     string         `gorm:"type:text;not null"`
	CreatedAt   time.Time
}

func (MessageModel) TableName() string { return "messages" }

// AllModels lists every model in FK-dependency order for AutoMigrate.
func AllModels() []any {
	return []any{
		&UserModel{},
		&WorkspaceModel{},
		&VideoModel{},
		&WorkspaceVideoModel{},
		&MessageModel{},
	}
}
