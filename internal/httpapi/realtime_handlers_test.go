package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/notifyhub/internal/realtime"
)

func TestSSEHealth_ReportsZeroConnectionsInitially(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/sse/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["activeConnections"])
}

func TestSSEStats_ReportsMaxConnections(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/sse/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats realtime.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, realtime.DefaultConfig().MaxConnections, stats.MaxConnections)
}

func TestSubscribe_UnknownConnectionIs404(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(r, http.MethodPost, "/sse/subscribe", subscribeRequest{ConnectionID: "nope", Channel: "org:tenant-a"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribe_MissingFieldsIsBadRequest(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(r, http.MethodPost, "/sse/subscribe", subscribeRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcast_ReturnsSentCount(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(r, http.MethodPost, "/sse/broadcast", broadcastRequest{Message: map[string]interface{}{"hello": "world"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body["sentCount"])
}

func TestSendTargeted_UnknownTargetIsBadRequest(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(r, http.MethodPost, "/sse/send/bogus", sendTargetedRequest{TenantID: "tenant-a"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
