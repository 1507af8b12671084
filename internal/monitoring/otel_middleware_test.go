package monitoring

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOTelMiddleware(t *testing.T) {
	m, err := NewOTelMiddleware()
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestOTelMiddleware_GinMiddleware_RecordsStatusAndLetsRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, err := NewOTelMiddleware()
	require.NoError(t, err)

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/notifications/:id/status", func(c *gin.Context) {
		c.JSON(200, gin.H{"id": c.Param("id")})
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Status(500)
	})

	req := httptest.NewRequest("GET", "/notifications/abc/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	req = httptest.NewRequest("GET", "/boom", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 500, w.Code)
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		101: "1xx",
		200: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, statusClass(status))
	}
}
