package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	mng "github.com/loykin/provisr/internal/manager"
)

func TestWebSocketSendsProcessListOnConnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	srv := httptest.NewServer(NewRouter(mgr, "").Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "process_list" {
		t.Fatalf("expected process_list as first frame, got %q", frame.Type)
	}
}
