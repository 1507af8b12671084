package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Greater(t, cfg.Dispatch.MaxSize, 0)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	defer os.Unsetenv("HTTP_ADDR")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := Load()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsEmptyHTTPAddr(t *testing.T) {
	cfg := Load()
	cfg.HTTPAddr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveDispatchMaxSize(t *testing.T) {
	cfg := Load()
	cfg.Dispatch.MaxSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveDispatchConcurrency(t *testing.T) {
	cfg := Load()
	cfg.Dispatch.Concurrency = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveRateLimit(t *testing.T) {
	cfg := Load()
	cfg.RateLimit.Limit = 0
	assert.Error(t, cfg.Validate())
}
