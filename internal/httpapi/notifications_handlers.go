package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/notifyhub/internal/dispatch"
	apperrors "github.com/irfndi/notifyhub/internal/errors"
	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/processor"
)

// sendRequest is the wire shape of POST /notifications/send and each
// element of POST /notifications/batch.
type sendRequest struct {
	TenantID  string           `json:"organizationId"`
	SiteID    string           `json:"siteId"`
	UserID    string           `json:"userId"`
	SessionID string           `json:"sessionId"`
	Priority  string           `json:"priority"`
	Channels  []string         `json:"channels"`
	Payload   notify.Payload   `json:"payload"`
	Targeting notify.Targeting `json:"targeting"`
	SendAt    *time.Time       `json:"sendAt"`
	ExpiresAt *time.Time       `json:"expiresAt"`
	Timezone  string           `json:"timezone"`
	Fallback  string           `json:"fallback"`
}

var priorityNames = map[string]notify.Priority{
	"low":      notify.PriorityLow,
	"normal":   notify.PriorityNormal,
	"high":     notify.PriorityHigh,
	"urgent":   notify.PriorityUrgent,
	"critical": notify.PriorityCritical,
}

func (r sendRequest) buildNotification() (*notify.Notification, error) {
	if len(r.Channels) == 0 {
		return nil, apperrors.NewValidationError("channels", "at least one channel is required")
	}
	if r.TenantID == "" {
		return nil, apperrors.NewValidationError("organizationId", "organizationId is required")
	}

	channels := make([]notify.Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		channels = append(channels, notify.Channel(c))
	}

	n := notify.NewNotification(r.TenantID, channels, r.Payload)
	n.SiteID = r.SiteID
	n.UserID = r.UserID
	n.SessionID = r.SessionID
	n.Targeting = r.Targeting
	n.SendAt = r.SendAt
	n.ExpiresAt = r.ExpiresAt
	n.Timezone = r.Timezone

	if r.Priority != "" {
		p, ok := priorityNames[r.Priority]
		if !ok {
			return nil, apperrors.NewValidationError("priority", "unknown priority: "+r.Priority)
		}
		n.Priority = p
	}
	if r.Fallback != "" {
		n.Policy.Fallback = notify.FallbackStrategy(r.Fallback)
	}
	return n, nil
}

// sendNotification implements POST /notifications/send.
func (h *handlers) sendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}

	n, err := req.buildNotification()
	if err != nil {
		respondError(c, err)
		return
	}

	id, err := h.deps.Dispatcher.Enqueue(n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notificationId": id})
}

const maxBatchSize = 100

type batchResult struct {
	Index          int    `json:"index"`
	NotificationID string `json:"notificationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// sendBatch implements POST /notifications/batch: up to 100 items, each
// enqueued independently so one bad item doesn't fail the rest.
func (h *handlers) sendBatch(c *gin.Context) {
	var reqs []sendRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		respondValidation(c, "batch must contain at least one notification")
		return
	}
	if len(reqs) > maxBatchSize {
		respondValidation(c, "batch exceeds maximum size of 100")
		return
	}

	results := make([]batchResult, len(reqs))
	for i, req := range reqs {
		n, err := req.buildNotification()
		if err != nil {
			results[i] = batchResult{Index: i, Error: err.Error()}
			continue
		}
		id, err := h.deps.Dispatcher.Enqueue(n)
		if err != nil {
			results[i] = batchResult{Index: i, Error: err.Error()}
			continue
		}
		results[i] = batchResult{Index: i, NotificationID: id}
	}
	c.JSON(http.StatusCreated, gin.H{"results": results})
}

// sendRealtime implements POST /notifications/realtime: bypasses the
// queue entirely and pushes straight through the real-time fabric,
// and design note on the fabric/web-processor cycle.
func (h *handlers) sendRealtime(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body")
		return
	}
	if req.TenantID == "" {
		respondValidation(c, "organizationId is required")
		return
	}

	msg := processor.Message{
		Type:      req.Payload.Type,
		Title:     req.Payload.Title,
		Body:      req.Payload.Message,
		Data:      req.Payload.Data,
		Timestamp: time.Now().UTC(),
		Tenant:    req.TenantID,
		Site:      req.SiteID,
	}

	ctx := c.Request.Context()
	var sentCount int
	var err error
	switch {
	case req.UserID != "":
		sentCount, err = h.deps.Fabric.SendToUser(ctx, req.TenantID, req.UserID, msg)
	case req.SiteID != "":
		sentCount, err = h.deps.Fabric.SendToSite(ctx, req.TenantID, req.SiteID, msg)
	default:
		sentCount, err = h.deps.Fabric.SendToOrganization(ctx, req.TenantID, msg)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sentCount": sentCount})
}

// notificationStatus implements GET /notifications/:id/status.
func (h *handlers) notificationStatus(c *gin.Context) {
	n, ok := h.deps.Dispatcher.Get(c.Param("id"))
	if !ok {
		respondNotFound(c, "notification")
		return
	}
	c.JSON(http.StatusOK, n)
}

// listNotifications implements the paginated GET /notifications query.
func (h *handlers) listNotifications(c *gin.Context) {
	filter := dispatchListFilter(c)
	c.JSON(http.StatusOK, gin.H{"notifications": h.deps.Dispatcher.List(filter)})
}

// cancelNotification implements DELETE /notifications/:id.
func (h *handlers) cancelNotification(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.deps.Dispatcher.Get(id); !ok {
		respondNotFound(c, "notification")
		return
	}
	if !h.deps.Dispatcher.Cancel(id) {
		respondError(c, apperrors.NewConflictError("notification is no longer pending"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// queueStats implements GET /notifications/stats/queue.
func (h *handlers) queueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Dispatcher.Stats())
}

// deliveryStats implements GET /notifications/stats/delivery. The
// dispatcher's own snapshot already breaks delivery down by status and
// channel, so it answers both stats routes.
func (h *handlers) deliveryStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Dispatcher.Stats())
}

// dispatchListFilter translates the query parameters on GET /notifications
// into a dispatch.ListFilter.
func dispatchListFilter(c *gin.Context) dispatch.ListFilter {
	filter := dispatch.ListFilter{
		TenantID: c.Query("organizationId"),
		Status:   notify.Status(c.Query("status")),
		Channel:  notify.Channel(c.Query("channel")),
		Limit:    parseInt(c.Query("limit"), 50),
		Offset:   parseInt(c.Query("offset"), 0),
	}
	if from := c.Query("from"); from != "" {
		filter.From = parseTime(from)
	}
	if to := c.Query("to"); to != "" {
		filter.To = parseTime(to)
	}
	return filter
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
