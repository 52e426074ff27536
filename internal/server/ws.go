package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/provisr/internal/eventbus"
)

// wsWriteWait bounds how long a single frame write may block before the connection is
// considered stuck and torn down.
const wsWriteWait = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control plane is consumed by arbitrary web/CLI clients behind the same CORS
	// policy as the rest of /api; origin checking is intentionally permissive here.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsFrame struct {
	Type eventbus.EventType `json:"type"`
	Data any                `json:"data"`
}

// handleWebSocket upgrades the connection and relays internal/eventbus frames until the
// client disconnects. One ProcessList frame is sent immediately on connect, ahead of
// whatever the bus delivers afterward, per the spec's connect-time contract.
func (r *Router) handleWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := r.mgr.Events().Subscribe()
	defer sub.Unsubscribe()

	if err := writeWSFrame(conn, wsFrame{Type: eventbus.ProcessList, Data: r.mgr.List()}); err != nil {
		return
	}

	// A reader goroutine is required so gorilla/websocket notices client-initiated
	// closes and pings; this handler discards anything the client sends.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeWSFrame(conn, wsFrame{Type: ev.Type, Data: ev.Payload}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeWSFrame(conn *websocket.Conn, f wsFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
