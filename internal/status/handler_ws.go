package status

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NowPlayingWS handles GET /status/ws. It pushes the now-playing view on
// connect and then every PushInterval until the client goes away.
func (h *Handler) NowPlayingWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Client messages are ignored; reading detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(wsReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(wsMessage{Type: "now_playing", Data: h.nowPlayingView()})
	}
	if err := push(); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := push(); err != nil {
				h.log.Debug("websocket push failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
