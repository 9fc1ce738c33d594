package http

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/stream"
)

const keepAlive = 15 * time.Second

// SSEHandler serves the snapshot stream as server-sent events.
type SSEHandler struct {
	broadcaster *stream.Broadcaster
	logger      *zap.Logger
}

// NewSSEHandler constructs a stream handler.
func NewSSEHandler(broadcaster *stream.Broadcaster, logger *zap.Logger) *SSEHandler {
	return &SSEHandler{broadcaster: broadcaster, logger: logging.OrNop(logger)}
}

// ServeHTTP handles GET /api/v1/stream[?machine=id...].
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broadcaster == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.broadcaster.Subscribe(r.URL.Query()["machine"]...)
	defer sub.Close()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	done := r.Context().Done()
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Warn("encode snapshot", zap.String("machine", snap.MachineID), zap.Error(err))
				continue
			}
			_, _ = w.Write([]byte("event: snapshot\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
