package monitoring

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitoringMiddleware_DefaultConfigEnablesOTelAndHealth(t *testing.T) {
	mm := NewMonitoringMiddleware(nil)
	require.NotNil(t, mm)
	assert.NotNil(t, mm.otel)
	assert.NotNil(t, mm.GetHealth())
}

func TestNewMonitoringMiddleware_DisabledSectionsStayNil(t *testing.T) {
	mm := NewMonitoringMiddleware(&MiddlewareConfig{
		EnableTracing:      false,
		EnableHealthChecks: false,
	})
	assert.Nil(t, mm.otel)
	assert.Nil(t, mm.GetHealth())
}

func TestDefaultMiddlewareConfig(t *testing.T) {
	config := DefaultMiddlewareConfig()

	assert.Equal(t, "/health", config.HealthPath)
	assert.Contains(t, config.SkipPaths, "/favicon.ico")
	assert.Contains(t, config.SkipPaths, "/robots.txt")
	assert.True(t, config.EnableTracing)
	assert.True(t, config.EnableHealthChecks)
}

func TestMonitoringMiddleware_ShouldSkipPath(t *testing.T) {
	config := DefaultMiddlewareConfig()
	config.SkipPaths = []string{"/favicon.ico", "/robots.txt", "/metrics"}
	mm := NewMonitoringMiddleware(config)

	assert.True(t, mm.shouldSkipPath("/favicon.ico"))
	assert.True(t, mm.shouldSkipPath("/robots.txt"))
	assert.True(t, mm.shouldSkipPath("/metrics"))
	assert.False(t, mm.shouldSkipPath("/notifications/send"))
	assert.False(t, mm.shouldSkipPath("/health"))
}

func TestMonitoringMiddleware_GinMiddleware_PassesRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mm := NewMonitoringMiddleware(DefaultMiddlewareConfig())

	router := gin.New()
	router.Use(mm.GinMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "success"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestMonitoringMiddleware_GinMiddleware_SkipsConfiguredPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultMiddlewareConfig()
	config.SkipPaths = []string{"/favicon.ico"}
	mm := NewMonitoringMiddleware(config)

	router := gin.New()
	router.Use(mm.GinMiddleware())
	router.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/favicon.ico", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestMonitoringMiddleware_GinMiddleware_NilOTelIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mm := NewMonitoringMiddleware(&MiddlewareConfig{EnableTracing: false})

	router := gin.New()
	router.Use(mm.GinMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestMonitoringMiddleware_RegisterRoutes_HealthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mm := NewMonitoringMiddleware(DefaultMiddlewareConfig())

	router := gin.New()
	mm.RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	req = httptest.NewRequest("GET", "/health/live", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	req = httptest.NewRequest("GET", "/health/ready", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestMonitoringMiddleware_RegisterRoutes_SkipsHealthWhenDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mm := NewMonitoringMiddleware(&MiddlewareConfig{EnableHealthChecks: false})

	router := gin.New()
	mm.RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 404, w.Code)
}
