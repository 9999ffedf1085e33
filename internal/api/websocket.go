package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the live tail protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeChunk     = "chunk"
	MsgTypeStatus    = "status"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsStatusEvery  = 2 * time.Second
)

// WSMessage is one frame of the live tail protocol
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WebSocketHandler pushes live buffer chunks to browser clients
type WebSocketHandler struct {
	stream   StreamController
	upgrader websocket.Upgrader
	maxRead  int64
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new live tail handler. maxMessageKB caps
// client frames.
func NewWebSocketHandler(stream StreamController, maxMessageKB int, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxMessageKB <= 0 {
		maxMessageKB = 64
	}
	return &WebSocketHandler{
		stream: stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS middleware already restricts browser origins
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxRead: int64(maxMessageKB) * 1024,
		logger:  logger.With("component", "websocket"),
	}
}

// HandleWebSocket upgrades the connection, replays the buffer after
// ?since= and then forwards every new chunk until the client leaves.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	var since uint64
	if s := c.QueryParam("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return NewBadRequestError("invalid since parameter", err)
		}
		since = v
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// Subscribe before replaying so nothing falls between the two.
	buf := wsh.stream.Buffer()
	live, cancel := buf.Subscribe()
	defer cancel()

	wsh.logger.Debug("client connected", "remote", c.RealIP())

	if err := wsh.send(ws, MsgTypeConnected, wsh.stream.Info()); err != nil {
		return nil
	}
	last := since
	for _, chunk := range buf.Since(since) {
		if err := wsh.send(ws, MsgTypeChunk, chunk); err != nil {
			return nil
		}
		last = chunk.Seq
	}

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go wsh.readLoop(ws, pings, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	statusTicker := time.NewTicker(wsStatusEvery)
	defer statusTicker.Stop()
	lastStatus := wsh.stream.Status()

	for {
		select {
		case <-done:
			wsh.logger.Debug("client disconnected", "remote", c.RealIP())
			return nil
		case chunk, ok := <-live:
			if !ok {
				return nil
			}
			if chunk.Seq <= last {
				continue
			}
			last = chunk.Seq
			if err := wsh.send(ws, MsgTypeChunk, chunk); err != nil {
				return nil
			}
		case <-pings:
			if err := wsh.send(ws, MsgTypePong, nil); err != nil {
				return nil
			}
		case <-statusTicker.C:
			if st := wsh.stream.Status(); st != lastStatus {
				lastStatus = st
				if err := wsh.send(ws, MsgTypeStatus, wsh.stream.Info()); err != nil {
					return nil
				}
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readLoop consumes client frames; gorilla allows one concurrent reader,
// and all writes stay on the handler goroutine.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, pings chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(wsh.maxRead)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		if msg.Type == MsgTypePing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msgType string, payload interface{}) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(WSMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}
