package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/tubechat/internal/domain"
)

// Store is the persistence the Library needs. SaveVideo must be idempotent:
// insert the video if its URL is new, then link it to the workspace if it is
// not linked yet, returning the stored id either way.
type Store interface {
	GetVideoByURL(ctx context.Context, url string) (*domain.Video, error)
	SaveVideo(ctx context.Context, workspaceID uuid.UUID, v *domain.Video) (int64, error)
}

// Library resolves URLs to stored videos. A video is fetched from the source
// at most once across all workspaces; afterwards the stored copy is reused.
// Concurrent watchers of the same new URL share one fetch.
type Library struct {
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewLibrary creates a Library.
func NewLibrary(store Store, fetcher Fetcher, logger *slog.Logger) *Library {
	return &Library{store: store, fetcher: fetcher, logger: logger}
}

// Watch returns the video for rawURL, fetching it only if no workspace has
// watched it before, and ensures it is linked to workspaceID.
func (l *Library) Watch(ctx context.Context, workspaceID uuid.UUID, rawURL string) (*domain.Video, error) {
	url := NormalizeURL(rawURL)

	v, err := l.store.GetVideoByURL(ctx, url)
	switch {
	case err == nil:
		l.logger.DebugContext(ctx, "reusing stored video",
			slog.String("url", url),
			slog.Int64("video_id", v.ID),
		)
	case errors.Is(err, domain.ErrNotFound):
		if v, err = l.fetch(ctx, url); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("looking up video: %w", err)
	}

	id, err := l.store.SaveVideo(ctx, workspaceID, v)
	if err != nil {
		return nil, fmt.Errorf("saving video: %w", err)
	}
	v.ID = id
	return v, nil
}

// fetch downloads url, coalescing concurrent calls for the same URL. Each
// caller gets its own copy of the result.
func (l *Library) fetch(ctx context.Context, url string) (*domain.Video, error) {
	res, err, shared := l.flight.Do(url, func() (any, error) {
		fetched, err := l.fetcher.GetVideo(ctx, url)
		if err != nil {
			return nil, err
		}
		l.logger.InfoContext(ctx, "fetched video",
			slog.String("url", url),
			slog.String("title", fetched.Title),
		)
		return &domain.Video{
			URL:         url,
			Title:       fetched.Title,
			Channel:     fetched.Author,
			Transcript:  fetched.Transcript,
			PublishedAt: fetched.PublishedAt,
			Duration:    fetched.Duration,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.DebugContext(ctx, "joined in-flight fetch", slog.String("url", url))
	}
	v := *res.(*domain.Video)
	return &v, nil
}
