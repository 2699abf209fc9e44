package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ezweb_signin/internal/logbus"
)

// LogStream 通过 websocket 推送日志：先发送缓冲区里的历史记录，再实时推送。
// 查询参数 level 过滤低于该级别的日志，例如 /ws?level=warn。
type LogStream struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func NewLogStream(bus *logbus.Bus, allowOrigins []string) *LogStream {
	h := &LogStream{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *LogStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "log bus unavailable", http.StatusServiceUnavailable)
		return
	}
	minLevel := logbus.ParseLevel(r.URL.Query().Get("level"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// 先订阅再发送历史记录，避免两者之间的日志丢失。
	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, msg := range h.bus.Snapshot() {
		if !accept(msg, minLevel) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !accept(msg, minLevel) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func accept(msg logbus.Message, min logbus.Level) bool {
	data, ok := msg.Data.(logbus.LogData)
	if !ok {
		return true
	}
	return data.Level.AtLeast(min)
}

func (h *LogStream) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return matchOrigin(h.allowOrigins, origin) != ""
}
