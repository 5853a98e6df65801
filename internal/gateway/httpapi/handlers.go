package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/tubechat/internal/domain"
)

// CreateWorkspaceRequest is the JSON body for POST /api/v1/workspaces.
type CreateWorkspaceRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// AddVideoRequest is the JSON body for POST /api/v1/workspaces/{id}/videos.
type AddVideoRequest struct {
	URL string `json:"url"`
}

// SendMessageRequest is the JSON body for POST /api/v1/workspaces/{id}/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageResponse is the JSON response for POST /api/v1/workspaces/{id}/messages.
type SendMessageResponse struct {
	WorkspaceID   string `json:"workspace_id"`
	Response      string `json:"response"`
	CorrelationID string `json:"correlation_id"`
}

// --- Users ---

func (g *Gateway) handleCreateUser(c *okapi.Context) error {
	u, err := g.svc.CreateUser(c.Context())
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (g *Gateway) handleGetUser(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid user ID")
	}
	u, err := g.svc.GetUser(c.Context(), id)
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.OK(u)
}

func (g *Gateway) handleListWorkspaces(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid user ID")
	}
	list, err := g.svc.ListWorkspaces(c.Context(), id)
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	if list == nil {
		list = []domain.Workspace{}
	}
	return c.OK(list)
}

// --- Workspaces ---

func (g *Gateway) handleCreateWorkspace(c *okapi.Context) error {
	var req CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return c.AbortBadRequest("user_id must be a UUID")
	}
	ws, err := g.svc.CreateWorkspace(c.Context(), userID, req.Name)
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.JSON(http.StatusCreated, ws)
}

func (g *Gateway) handleGetWorkspace(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	ws, err := g.svc.GetWorkspace(c.Context(), id)
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.OK(ws)
}

func (g *Gateway) handleDeleteWorkspace(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	if err := g.svc.DeleteWorkspace(c.Context(), id); err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.OK(map[string]string{"status": "deleted"})
}

// --- Videos ---

func (g *Gateway) handleAddVideo(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	var req AddVideoRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.URL == "" {
		return c.AbortBadRequest("url is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http add video",
		slog.String("correlation_id", correlationID),
		slog.String("workspace_id", id.String()),
		slog.String("url", req.URL),
	)
	v, err := g.svc.AddVideo(c.Context(), id, req.URL)
	if err != nil {
		return g.respondError(c, correlationID, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (g *Gateway) handleListVideos(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	list, err := g.svc.ListVideos(c.Context(), id)
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	if list == nil {
		list = []domain.WorkspaceVideo{}
	}
	return c.OK(list)
}

// --- Chat ---

func (g *Gateway) handleSendMessage(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http chat message",
		slog.String("correlation_id", correlationID),
		slog.String("workspace_id", id.String()),
	)
	answer, err := g.svc.SendMessage(c.Context(), id, req.Message)
	if err != nil {
		return g.respondError(c, correlationID, err)
	}
	return c.OK(SendMessageResponse{
		WorkspaceID:   id.String(),
		Response:      answer,
		CorrelationID: correlationID,
	})
}

func (g *Gateway) handleGetMessages(c *okapi.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.AbortBadRequest("invalid workspace ID")
	}
	page, err := g.svc.GetMessages(c.Context(), id, c.Request().URL.Query().Get("cursor"))
	if err != nil {
		return g.respondError(c, newCorrelationID(), err)
	}
	return c.OK(page)
}
