// Package ws implements the WebSocket chat endpoint. Clients send chat.send
// envelopes and receive every agent event of the turn as it happens, followed
// by a chat.reply carrying the final answer.
package ws

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/config"
	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/protocol"
	"github.com/jkaninda/tubechat/internal/ratelimit"
	"github.com/jkaninda/tubechat/internal/video"
	"github.com/jkaninda/tubechat/internal/workspace"
)

// Subprotocol is offered to clients that negotiate one.
const Subprotocol = "tubechat-chat-v1"

const (
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
)

// Server is the WebSocket chat server.
type Server struct {
	svc     *workspace.Service
	cfg     *config.WebSocketGatewayConfig
	apiKeys []string
	limiter *ratelimit.Limiter
	turns   *TurnTracker
	logger  *slog.Logger

	connected atomic.Int64
}

// NewServer creates a chat server backed by the workspace service.
func NewServer(svc *workspace.Service, cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		cfg:    cfg,
		turns:  NewTurnTracker(DefaultMaxTurnsPerConnection, logger),
		logger: logger,
	}
}

// WithAPIKeys requires one of keys on the upgrade request, as a "token"
// query parameter or a bearer Authorization header.
func (s *Server) WithAPIKeys(keys []string) *Server {
	s.apiKeys = keys
	return s
}

// WithRateLimiter limits chat.send envelopes per client.
func (s *Server) WithRateLimiter(rl *ratelimit.Limiter) *Server {
	s.limiter = rl
	return s
}

// ConnectedClients returns the number of open sockets.
func (s *Server) ConnectedClients() int {
	return int(s.connected.Load())
}

// Turns returns the turn tracker.
func (s *Server) Turns() *TurnTracker { return s.turns }

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	client := "ip:" + remoteIP(r)
	if len(s.apiKeys) > 0 {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !s.validKey(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sum := sha256.Sum256([]byte(token))
		client = "key:" + hex.EncodeToString(sum[:6])
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(readLimit)

	s.handleConnection(r.Context(), conn, client)
}

func (s *Server) validKey(token string) bool {
	if token == "" {
		return false
	}
	ok := false
	for _, key := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, client string) {
	connID := uuid.New().String()
	s.connected.Add(1)
	s.logger.Info("chat client connected", slog.String("conn_id", connID))

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.connected.Add(-1)
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	go s.heartbeatLoop(ctx, conn, connID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				s.logger.Info("chat client disconnected", slog.String("conn_id", connID))
			} else if ctx.Err() == nil {
				s.logger.Warn("chat connection error",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(ctx, conn, "", protocol.CodeBadRequest, "invalid envelope")
			continue
		}

		switch env.Type {
		case protocol.MsgChatSend:
			s.startTurn(ctx, &wg, conn, connID, client, &env)
		case protocol.MsgPong:
		default:
			s.sendError(ctx, conn, env.ID, protocol.CodeBadRequest, fmt.Sprintf("unsupported message type %q", env.Type))
		}
	}
}

// startTurn validates a chat.send and runs the turn in the background so the
// read loop keeps serving pings and other workspaces.
func (s *Server) startTurn(ctx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, connID, client string, env *protocol.Envelope) {
	requestID := env.ID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req protocol.ChatSendPayload
	if err := env.Decode(&req); err != nil {
		s.sendError(ctx, conn, requestID, protocol.CodeBadRequest, "invalid chat.send payload")
		return
	}
	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		s.sendError(ctx, conn, requestID, protocol.CodeBadRequest, "workspace_id must be a UUID")
		return
	}
	if err := s.limiter.Allow(client); err != nil {
		s.sendError(ctx, conn, requestID, protocol.CodeRateLimited, err.Error())
		return
	}
	if err := s.turns.Begin(requestID, connID, workspaceID.String()); err != nil {
		s.sendError(ctx, conn, requestID, protocol.CodeRateLimited, err.Error())
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		sink := agent.EventSinkFunc(func(ctx context.Context, ev agent.Event) {
			s.turns.MarkProgress(requestID)
			s.send(ctx, conn, requestID, protocol.MsgAgentEvent, protocol.AgentEventPayload{
				WorkspaceID: workspaceID.String(),
				Event:       ev,
			})
		})

		answer, err := s.svc.SendMessageStream(ctx, workspaceID, req.Message, sink)
		s.turns.Finish(requestID, err)
		if err != nil {
			code, msg := classify(err)
			if code == protocol.CodeInternal {
				s.logger.Error("chat turn failed",
					slog.String("conn_id", connID),
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)
			}
			s.sendError(ctx, conn, requestID, code, msg)
			return
		}
		s.send(ctx, conn, requestID, protocol.MsgChatReply, protocol.ChatReplyPayload{
			WorkspaceID: workspaceID.String(),
			Response:    answer,
		})
	}()
}

// classify maps service errors onto protocol error codes.
func classify(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return protocol.CodeNotFound, "workspace not found"
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, video.ErrVideoIDUnparsable):
		return protocol.CodeBadRequest, err.Error()
	case errors.Is(err, domain.ErrVideoAlreadyInWorkspace), errors.Is(err, domain.ErrAlreadyExists):
		return protocol.CodeConflict, err.Error()
	default:
		return protocol.CodeInternal, "processing failed"
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	ticker := time.NewTicker(s.cfg.WSHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, _ := protocol.NewEnvelope(protocol.MsgPing, nil)
			if err := s.writeEnvelope(ctx, conn, env); err != nil {
				s.logger.Debug("heartbeat ping failed",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, requestID string, msgType protocol.MessageType, payload any) {
	env, err := protocol.Reply(requestID, msgType, payload)
	if err != nil {
		s.logger.Error("encoding envelope", slog.String("type", string(msgType)), slog.String("error", err.Error()))
		return
	}
	if err := s.writeEnvelope(ctx, conn, env); err != nil {
		s.logger.Debug("write failed",
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, msg string) {
	s.send(ctx, conn, requestID, protocol.MsgError, protocol.ErrorPayload{Code: code, Message: msg})
}

// writeEnvelope writes one text frame. Conn writes are safe for concurrent use.
func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
