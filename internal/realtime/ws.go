package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func closeWithCode(wsConn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = wsConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	_ = wsConn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

// ServeBidirectional handles the bidirectional-frame (WebSocket) handshake
// and message loop.
func (f *Fabric) ServeBidirectional(c *gin.Context) {
	params := HandshakeParams{
		TenantID: c.Query("organizationId"),
		SiteID:   c.Query("siteId"),
		UserID:   c.Query("userId"),
	}

	authErr := f.auth.Authenticate(params, c.Request)
	atCapacity := authErr == nil && f.AtCapacity(c.Request.Context())

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		telemetry.GetContextualLogger(c.Request.Context()).WithField("operation", "realtime_ws_upgrade").Warnf("upgrade failed: %v", err)
		return
	}

	if authErr != nil {
		closeWithCode(wsConn, websocket.ClosePolicyViolation, "policy violation")
		return
	}
	if atCapacity {
		closeWithCode(wsConn, websocket.CloseTryAgainLater, "at connection capacity")
		return
	}

	conn := NewConnection(NewConnectionID(), params.TenantID, params.SiteID, params.UserID, TransportBidirectionalFrame)
	conn.SetState(StateAuthenticated)
	f.tbl.Register(conn)
	conn.SetState(StateActive)

	conn.Send(Frame{Type: "ping", Payload: map[string]interface{}{
		"connection_id": conn.ID,
		"server_time":   time.Now().UTC(),
	}})

	done := make(chan struct{})
	go f.wsWritePump(wsConn, conn, done)
	f.wsReadPump(wsConn, conn)
	close(done)

	conn.Close()
	f.tbl.Unregister(conn)
	_ = wsConn.Close()
}

func (f *Fabric) wsReadPump(wsConn *websocket.Conn, conn *Connection) {
	wsConn.SetReadLimit(64 * 1024)
	_ = wsConn.SetReadDeadline(time.Now().Add(wsPongWait))
	wsConn.SetPongHandler(func(string) error {
		conn.Touch()
		_ = wsConn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch()

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.Send(Frame{Type: "error", Payload: map[string]string{"message": "malformed frame"}})
			continue
		}

		switch frame.Type {
		case "ping":
			// activity already recorded above; no response required.
		case "subscribe", "unsubscribe":
			var payload subscribePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				conn.Send(Frame{Type: "error", Payload: map[string]string{"message": "malformed subscription payload"}})
				continue
			}
			if frame.Type == "subscribe" {
				_ = f.HandleSubscribe(context.Background(), conn, payload.Channel)
			} else {
				f.HandleUnsubscribe(conn, payload.Channel)
			}
		default:
			conn.Send(Frame{Type: "error", Payload: map[string]string{"message": "unknown frame type: " + frame.Type}})
		}
	}
}

func (f *Fabric) wsWritePump(wsConn *websocket.Conn, conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-conn.Outbound():
			_ = wsConn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if frame.Type == "close" {
				return
			}
		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
