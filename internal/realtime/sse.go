package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

// ServePushStream handles the push-stream (SSE) handshake and write loop:
// framing headers, a `connected` event, then one outbound data line per
// queued frame until the connection closes.
func (f *Fabric) ServePushStream(c *gin.Context) {
	params := HandshakeParams{
		TenantID: c.Query("organizationId"),
		SiteID:   c.Query("siteId"),
		UserID:   c.Query("userId"),
	}

	if err := f.auth.Authenticate(params, c.Request); err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	if f.AtCapacity(c.Request.Context()) {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	conn := NewConnection(NewConnectionID(), params.TenantID, params.SiteID, params.UserID, TransportPushStream)
	conn.SetState(StateAuthenticated)
	f.tbl.Register(conn)
	conn.SetState(StateActive)
	defer func() {
		conn.Close()
		f.tbl.Unregister(conn)
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	writeFrame(ctx, c.Writer, Frame{Type: "connected", Payload: map[string]interface{}{
		"connection_id": conn.ID,
		"server_time":   time.Now().UTC(),
	}})
	c.Writer.Flush()

	notify := ctx.Done()
	for {
		select {
		case <-notify:
			return
		case frame, ok := <-conn.Outbound():
			if !ok {
				return
			}
			if frame.Type == "close" {
				writeFrame(ctx, c.Writer, frame)
				c.Writer.Flush()
				return
			}
			writeFrame(ctx, c.Writer, frame)
			c.Writer.Flush()
		}
	}
}

func writeFrame(ctx context.Context, w gin.ResponseWriter, f Frame) {
	data, err := json.Marshal(f.Payload)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "realtime_sse_encode").Warnf("failed to encode SSE frame: %v", err)
		return
	}
	_, _ = w.Write([]byte("event: " + f.Type + "\ndata: " + string(data) + "\n\n"))
}
