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

var _ storage.VideoStore = (*VideoRepository)(nil)

// VideoRepository manages videos and their workspace links.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a VideoRepository.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// GetVideoByURL looks a video up by its normalized URL across all workspaces.
func (r *VideoRepository) GetVideoByURL(ctx context.Context, url string) (*domain.Video, error) {
	var m VideoModel
	if err := r.db.WithContext(ctx).Where("url = ?", url).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return toVideoDomain(&m), nil
}

// GetWorkspaceVideo returns a video only if it is linked to the workspace.
func (r *VideoRepository) GetWorkspaceVideo(ctx context.Context, workspaceID uuid.UUID, videoID int64) (*domain.WorkspaceVideo, error) {
	var m WorkspaceVideoModel
	err := r.db.WithContext(ctx).
		Preload("Video").
		Where("workspace_id = ? AND video_id = ?", workspaceID, videoID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	wv := toWorkspaceVideoDomain(&m)
	return &wv, nil
}

// SaveVideo inserts the video unless its URL is already stored, then links
// it to the workspace. Both inserts use ON CONFLICT DO NOTHING, so racing
// watchers of the same URL converge on one row and one link.
func (r *VideoRepository) SaveVideo(ctx context.Context, workspaceID uuid.UUID, v *domain.Video) (int64, error) {
	var id int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := toVideoModel(v)
		m.CreatedAt = time.Now().UTC()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(&m).Error; err != nil {
			return fmt.Errorf("inserting video: %w", err)
		}

		var stored VideoModel
		if err := tx.Select("id").Where("url = ?", v.URL).First(&stored).Error; err != nil {
			return fmt.Errorf("re-reading video: %w", err)
		}
		id = stored.ID

		link := WorkspaceVideoModel{
			WorkspaceID: workspaceID,
			VideoID:     id,
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return fmt.Errorf("linking video to workspace: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SaveSummary stores the workspace-specific summary of a linked video.
func (r *VideoRepository) SaveSummary(ctx context.Context, workspaceID uuid.UUID, videoID int64, summary string) error {
	res := r.db.WithContext(ctx).
		Model(&WorkspaceVideoModel{}).
		Where("workspace_id = ? AND video_id = ?", workspaceID, videoID).
		Update("summary", summary)
	if res.Error != nil {
		return fmt.Errorf("saving summary: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListVideos returns the videos linked to a workspace in the order they were added.
func (r *VideoRepository) ListVideos(ctx context.Context, workspaceID uuid.UUID) ([]domain.WorkspaceVideo, error) {
	var models []WorkspaceVideoModel
	err := r.db.WithContext(ctx).
		Preload("Video").
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC, video_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	out := make([]domain.WorkspaceVideo, len(models))
	for i := range models {
		out[i] = toWorkspaceVideoDomain(&models[i])
	}
	return out, nil
}
