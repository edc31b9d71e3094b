package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the state stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"
	MsgTypeDrag = "drag"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const wsWriteTimeout = 10 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams ViewState changes to the browser
type WebSocketHandler struct {
	sessions SessionManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new state stream handler
func NewWebSocketHandler(sessions SessionManager, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logging.OrDefault(logger),
	}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) send(msg WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and pushes {type:"state"} after
// every transition of the caller's workbench
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := sessionID(c)
	wb := wsh.sessions.GetOrCreate(id)

	var header http.Header
	if wb.ID() != id {
		header = http.Header{}
		header.Add("Set-Cookie", sessionCookie(wb.ID()).String())
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), header)
	if err != nil {
		return err
	}
	conn := &wsConn{ws: ws}
	defer ws.Close()

	logger := wsh.logger.With("session_id", wb.ID())
	logger.Debug("ws_connected")

	_ = conn.send(WSMessage{Type: MsgTypeConnected, ID: wb.ID(), Timestamp: time.Now().UnixMilli()})

	views, unsubscribe := wb.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wsh.readLoop(conn, wb.ID(), logger)
	}()

	for {
		select {
		case <-done:
			logger.Debug("ws_disconnected")
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			wsh.sessions.Touch(wb.ID())
			if err := conn.send(stateMessage(v)); err != nil {
				logger.Debug("ws_write_failed", "error", err)
				return nil
			}
		}
	}
}

func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string, logger *slog.Logger) {
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			// Respond with pong to keep connection alive
			wsh.sessions.Touch(id)
			_ = conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeDrag:
			var p dragRequest
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				_ = conn.send(errorMessage("Invalid drag payload: "+err.Error(), "INVALID_PAYLOAD"))
				continue
			}
			wsh.sessions.GetOrCreate(id).SetDragActive(p.Active)
		default:
			_ = conn.send(errorMessage("Unknown message type: "+msg.Type, "INVALID_TYPE"))
		}
	}
}

func stateMessage(v models.ViewState) WSMessage {
	return WSMessage{Type: MsgTypeState, Payload: mustJSON(v), Timestamp: time.Now().UnixMilli()}
}

func errorMessage(message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
		Timestamp: time.Now().UnixMilli(),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
