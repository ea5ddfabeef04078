package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"EDITOR_ADDR", "EDITOR_BACKEND_URL", "DATABASE_URL", "REDIS_URL", "EDITOR_REFETCH_ATTEMPTS", "EDITOR_REFETCH_BACKOFF_MS", "EDITOR_DRAFT_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8790", cfg.Addr)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 3, cfg.RefetchAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RefetchBackoff)
	assert.Equal(t, 7*24*time.Hour, cfg.DraftTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EDITOR_ADDR", ":9000")
	t.Setenv("EDITOR_REFETCH_ATTEMPTS", "5")
	t.Setenv("EDITOR_HTTP_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("EDITOR_REFETCH_BACKOFF_MS", "-4")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5, cfg.RefetchAttempts)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.RefetchBackoff)
}
