package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/stream"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type encoder struct {
	messageType int
	marshal     func(any) ([]byte, error)
}

// WebSocketHandler serves the snapshot stream over a websocket, one snapshot
// per message, JSON by default or CBOR with ?encoding=cbor.
type WebSocketHandler struct {
	broadcaster *stream.Broadcaster
	upgrader    websocket.Upgrader
	cbor        cbor.EncMode
	logger      *zap.Logger
}

// NewWebSocketHandler constructs a websocket stream handler.
func NewWebSocketHandler(broadcaster *stream.Broadcaster, logger *zap.Logger) (*WebSocketHandler, error) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, err
	}
	return &WebSocketHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cbor:   em,
		logger: logging.OrNop(logger),
	}, nil
}

// ServeHTTP handles GET /api/v1/ws[?machine=id...][&encoding=cbor].
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broadcaster == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	enc := encoder{messageType: websocket.TextMessage, marshal: json.Marshal}
	switch r.URL.Query().Get("encoding") {
	case "", "json":
	case "cbor":
		enc = encoder{messageType: websocket.BinaryMessage, marshal: h.cbor.Marshal}
	default:
		http.Error(w, "unsupported encoding", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.broadcaster.Subscribe(r.URL.Query()["machine"]...)
	defer sub.Close()

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, enc, closed)
}

// readPump discards client messages and notices disconnects.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, sub *stream.Subscription, enc encoder, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		<-closed
	}()
	for {
		select {
		case snap, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			payload, err := enc.marshal(snap)
			if err != nil {
				h.logger.Warn("encode snapshot", zap.String("machine", snap.MachineID), zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(enc.messageType, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
