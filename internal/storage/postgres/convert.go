package postgres

import (
	"time"

	"github.com/jkaninda/tubechat/internal/domain"
)

// --- User ---

func toUserDomain(m *UserModel) *domain.User {
	return &domain.User{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
	}
}

// --- Workspace ---

func toWorkspaceDomain(m *WorkspaceModel) *domain.Workspace {
	return &domain.Workspace{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

// --- Video ---

func toVideoModel(v *domain.Video) VideoModel {
	m := VideoModel{
		URL:        v.URL,
		Title:      v.Title,
		Channel:    v.Channel,
		Transcript: v.Transcript,
		Duration:   v.Duration,
	}
	if !v.PublishedAt.IsZero() {
		t := v.PublishedAt.UTC()
		m.PublishedAt = &t
	}
	return m
}

func toVideoDomain(m *VideoModel) *domain.Video {
	v := &domain.Video{
		ID:         m.ID,
		URL:        m.URL,
		Title:      m.Title,
		Channel:    m.Channel,
		Transcript: m.Transcript,
		Duration:   m.Duration,
		CreatedAt:  m.CreatedAt,
	}
	if m.PublishedAt != nil {
		v.PublishedAt = *m.PublishedAt
	}
	return v
}

// toWorkspaceVideoDomain converts a join row with its preloaded video. The
// workspace summary is mirrored onto the video for callers that only see it.
func toWorkspaceVideoDomain(m *WorkspaceVideoModel) domain.WorkspaceVideo {
	wv := domain.WorkspaceVideo{
		WorkspaceID: m.WorkspaceID,
		VideoID:     m.VideoID,
		Summary:     m.Summary,
		AddedAt:     m.CreatedAt,
	}
	if m.Video.ID != 0 {
		wv.Video = toVideoDomain(&m.Video)
		wv.Video.Summary = m.Summary
	}
	return wv
}

// --- Message ---

func toMessageModel(m *domain.Message) MessageModel {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return MessageModel{
		WorkspaceID: m.WorkspaceID,
		Role:        string(m.Role),
		Content:     m.Content,
		CreatedAt:   created,
	}
}

func toMessageDomain(m *MessageModel) domain.Message {
	return domain.Message{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Role:        domain.Role(m.Role),
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}
