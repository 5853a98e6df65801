package httpapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Type    string         `json:"type"`              // agent event type, "done" or "error"
	Content string         `json:"content,omitempty"` // Text content.
	Data    map[string]any `json:"data,omitempty"`
}

// handleSendMessageStream handles POST /api/v1/workspaces/{id}/messages/stream.
// Every agent event is written as it is emitted, followed by "done" with the
// final answer or "error".
func (g *Gateway) handleSendMessageStream(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("Bad request", err)
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()
	sink := agent.EventSinkFunc(func(_ context.Context, ev agent.Event) {
		c.SSEvent(string(ev.Type), SSEEvent{Type: string(ev.Type), Content: ev.Content, Data: ev.Data})
	})

	answer, err := g.svc.SendMessageStream(c.Context(), id, req.Message, sink)
	if err != nil {
		msg := "processing failed"
		switch {
		case errors.Is(err, domain.ErrNotFound):
			msg = "workspace not found"
		case errors.Is(err, domain.ErrEmptyMessage):
			msg = err.Error()
		default:
			g.logger.Error("streamed chat failed",
				slog.String("correlation_id", correlationID),
				slog.String("workspace_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
		c.SSEvent("error", SSEEvent{Type: "error", Content: msg})
		return nil
	}
	c.SSEvent("done", SSEEvent{Type: "done", Content: answer})
	return nil
}
