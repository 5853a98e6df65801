package workspace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
)

// dispatcher applies the side effects of agent events for one chat turn and
// forwards each event to an optional downstream sink. The first persistence
// failure is kept and aborts the turn; later events are only forwarded.
type dispatcher struct {
	svc         *Service
	workspaceID uuid.UUID
	next        agent.EventSink
	abort       context.CancelFunc

	persistedMessage bool
	err              error
}

func (d *dispatcher) Emit(ctx context.Context, ev agent.Event) {
	if d.err == nil {
		if d.err = d.apply(ctx, ev); d.err != nil && d.abort != nil {
			d.abort()
		}
	}
	if d.next != nil {
		d.next.Emit(ctx, ev)
	}
}

func (d *dispatcher) apply(ctx context.Context, ev agent.Event) error {
	switch ev.Type {
	case agent.EventMessage, agent.EventToolUse, agent.EventToolResult:
		if err := d.svc.persist(ctx, d.workspaceID, domain.RoleAssistant, ev.Content); err != nil {
			return err
		}
		if ev.Type == agent.EventMessage {
			d.persistedMessage = true
		}
	case agent.EventVideoWatched:
		// The watch tool already stored the video and its link.
	case agent.EventVideoSummarized:
		videoID, ok := ev.Data["video_id"].(int64)
		summary, _ := ev.Data["summary"].(string)
		if !ok {
			d.svc.logger.WarnContext(ctx, "video_summarized event without video id")
			return nil
		}
		if err := d.svc.store.Videos().SaveSummary(ctx, d.workspaceID, videoID, summary); err != nil {
			return err
		}
	default:
		d.svc.logger.WarnContext(ctx, "unhandled agent event",
			slog.String("type", string(ev.Type)),
			slog.String("workspace_id", d.workspaceID.String()),
		)
	}
	return nil
}
