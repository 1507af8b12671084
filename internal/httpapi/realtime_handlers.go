package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/irfndi/notifyhub/internal/realtime"
)

type subscribeRequest struct {
	ConnectionID string `json:"connectionId"`
	Channel      string `json:"channel"`
}

// subscribe looks up the connection by ID and authorizes the subscription,
//, POST /sse/subscribe.
func (h *handlers) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ConnectionID == "" || req.Channel == "" {
		respondValidation(c, "connectionId and channel are required")
		return
	}

	conn := h.findConnection(req.ConnectionID)
	if conn == nil {
		respondNotFound(c, "connection")
		return
	}

	if err := h.deps.Fabric.HandleSubscribe(c.Request.Context(), conn, req.Channel); err != nil {
		respondValidation(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

// unsubscribe removes a connection's subscription. Unlike subscribe it
// cannot fail on authorization, so an unknown connection is the only error.
func (h *handlers) unsubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ConnectionID == "" || req.Channel == "" {
		respondValidation(c, "connectionId and channel are required")
		return
	}

	conn := h.findConnection(req.ConnectionID)
	if conn == nil {
		respondNotFound(c, "connection")
		return
	}

	h.deps.Fabric.HandleUnsubscribe(conn, req.Channel)
	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

func (h *handlers) findConnection(connectionID string) *realtime.Connection {
	conn, ok := h.deps.Fabric.Table().Get(connectionID)
	if !ok {
		return nil
	}
	return conn
}

type sendTargetedRequest struct {
	TenantID string                 `json:"organizationId"`
	SiteID   string                 `json:"siteId"`
	UserID   string                 `json:"userId"`
	Channel  string                 `json:"channel"`
	Message  map[string]interface{} `json:"message"`
}

// sendTargeted implements POST /sse/send/{organization|site|user|channel}.
func (h *handlers) sendTargeted(c *gin.Context) {
	var req sendTargetedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}

	msg := processor.Message{Data: req.Message}
	ctx := c.Request.Context()

	var sentCount int
	var err error
	switch c.Param("target") {
	case "organization":
		sentCount, err = h.deps.Fabric.SendToOrganization(ctx, req.TenantID, msg)
	case "site":
		sentCount, err = h.deps.Fabric.SendToSite(ctx, req.TenantID, req.SiteID, msg)
	case "user":
		sentCount, err = h.deps.Fabric.SendToUser(ctx, req.TenantID, req.UserID, msg)
	case "channel":
		sentCount, err = h.deps.Fabric.SendToChannel(ctx, req.Channel, msg)
	default:
		respondValidation(c, "unknown send target")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sentCount": sentCount})
}

type broadcastRequest struct {
	Message map[string]interface{} `json:"message"`
}

// broadcast implements POST /sse/broadcast: every registered connection,
// regardless of tenant.
func (h *handlers) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}

	sent := h.deps.Fabric.Broadcast(realtime.Frame{Type: "notification", Payload: req.Message}, func(*realtime.Connection) bool { return true })
	c.JSON(http.StatusOK, gin.H{"sentCount": sent})
}

// sseStats implements GET /sse/stats.
func (h *handlers) sseStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Fabric.GetStats())
}

// sseHealth implements GET /sse/health: liveness plus the active
// connection count.
func (h *handlers) sseHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"activeConnections": h.deps.Fabric.Table().Count(),
	})
}
