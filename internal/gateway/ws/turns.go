package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxTurnsPerConnection caps concurrent chat turns on one socket.
const DefaultMaxTurnsPerConnection = 4

// ErrTooManyTurns is returned by Begin when a connection is at its cap.
var ErrTooManyTurns = errors.New("too many chat turns in flight on this connection")

// TrackedTurn is a chat turn started from a chat.send envelope.
type TrackedTurn struct {
	RequestID    string
	ConnID       string
	WorkspaceID  string
	StartedAt    time.Time
	LastProgress time.Time
	Events       int
}

// TurnTracker tracks in-flight chat turns across all connections. Turns are
// removed as soon as they finish.
type TurnTracker struct {
	mu      sync.RWMutex
	turns   map[string]*TrackedTurn // requestID -> turn
	maxConn int
	logger  *slog.Logger
}

// NewTurnTracker creates a tracker allowing maxPerConn concurrent turns per
// connection. 0 means DefaultMaxTurnsPerConnection.
func NewTurnTracker(maxPerConn int, logger *slog.Logger) *TurnTracker {
	if maxPerConn <= 0 {
		maxPerConn = DefaultMaxTurnsPerConnection
	}
	return &TurnTracker{
		turns:   make(map[string]*TrackedTurn),
		maxConn: maxPerConn,
		logger:  logger,
	}
}

// Begin records a new turn. Request ids must be unique among in-flight turns.
func (t *TurnTracker) Begin(requestID, connID, workspaceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.turns[requestID]; ok {
		return errors.New("duplicate request id " + requestID)
	}
	n := 0
	for _, turn := range t.turns {
		if turn.ConnID == connID {
			n++
		}
	}
	if n >= t.maxConn {
		return ErrTooManyTurns
	}

	now := time.Now()
	t.turns[requestID] = &TrackedTurn{
		RequestID:    requestID,
		ConnID:       connID,
		WorkspaceID:  workspaceID,
		StartedAt:    now,
		LastProgress: now,
	}
	t.logger.Debug("chat turn started",
		slog.String("request_id", requestID),
		slog.String("conn_id", connID),
		slog.String("workspace_id", workspaceID),
	)
	return nil
}

// MarkProgress records that the turn emitted an event.
func (t *TurnTracker) MarkProgress(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	turn, ok := t.turns[requestID]
	if !ok {
		return
	}
	turn.Events++
	turn.LastProgress = time.Now()
}

// Finish removes the turn and logs its outcome.
func (t *TurnTracker) Finish(requestID string, err error) {
	t.mu.Lock()
	turn, ok := t.turns[requestID]
	delete(t.turns, requestID)
	t.mu.Unlock()
	if !ok {
		return
	}

	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("workspace_id", turn.WorkspaceID),
		slog.Int("events", turn.Events),
		slog.String("duration", time.Since(turn.StartedAt).String()),
	}
	if err != nil {
		t.logger.Debug("chat turn failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	t.logger.Debug("chat turn completed", attrs...)
}

// ForConnection returns copies of the in-flight turns of a connection.
func (t *TurnTracker) ForConnection(connID string) []TrackedTurn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var turns []TrackedTurn
	for _, turn := range t.turns {
		if turn.ConnID == connID {
			turns = append(turns, *turn)
		}
	}
	return turns
}

// ActiveCount returns the number of in-flight turns.
func (t *TurnTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
