package admin

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleLogStream pushes audit entries over a websocket as they are
// recorded, optionally filtered to a single prefix via ?prefix=.
func (h *Handler) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	prefix := r.URL.Query().Get("prefix")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("log stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events := h.audit.Subscribe()
	defer h.audit.Unsubscribe(events)

	// Drain client frames so close handshakes and pings are processed; any
	// read error ends the stream.
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
		case ev := <-events:
			if prefix != "" && ev.Prefix != prefix {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
