// This file implements the WebSocket endpoint that streams a run's progress
// events as they are published.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/netscope/internal/api/middleware"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
)

// WebSocketHandler streams run events over WebSocket connections.
type WebSocketHandler struct {
	manager  *runs.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// WebSocketMessage wraps one run event. The final message of a stream has
// type "stream.end" and carries the run summary.
type WebSocketMessage struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

const streamEnd = "stream.end"

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(manager *runs.Manager, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		logger:  logger.With("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				// Origin policy is enforced by the CORS layer.
				return true
			},
		},
	}
}

// RunEvents handles GET /runs/{id}/ws?from=N. It replays events from N and
// follows the run until its log closes, then sends stream.end and closes.
func (h *WebSocketHandler) RunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := extractRunID(r)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}
	run, ok := h.manager.Get(id)
	if !ok {
		writeCodedError(w, r, errors.NewScanErrorWithTarget(errors.CodeNotFound, "run not found", id.String()))
		return
	}
	from, err := getQueryParamUint(r, "from", 1)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	requestID := middleware.GetRequestID(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	h.logger.Info("WebSocket stream opened", "request_id", requestID, "run_id", id, "from", from)

	// The request context ends once the handler returns after a hijack, so
	// the stream gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, run, run.Log().Subscribe(ctx, from))
	h.logger.Info("WebSocket stream closed", "request_id", requestID, "run_id", id)
}

// readPump discards client messages and cancels the stream when the peer
// goes away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, run *runs.Run, stream <-chan events.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				h.finish(conn, run)
				return
			}
			if err := h.send(conn, WebSocketMessage{
				Type:      ev.Type,
				RunID:     run.ID.String(),
				Seq:       ev.Seq,
				Timestamp: ev.Time,
				Data:      ev.Data,
			}); err != nil {
				h.logger.Debug("WebSocket write failed", "run_id", run.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) finish(conn *websocket.Conn, run *runs.Run) {
	<-run.Done()
	_ = h.send(conn, WebSocketMessage{
		Type:      streamEnd,
		RunID:     run.ID.String(),
		Timestamp: time.Now().UTC(),
		Data:      run.Summary(false),
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg WebSocketMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
