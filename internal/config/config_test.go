package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ModeProd, cfg.Mode)
	require.Equal(t, "gorm", cfg.DatastoreType)
	require.Equal(t, "none", cfg.CacheType)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.Equal(t, 8080, cfg.Listener.Port)
}

func TestApplyExtraEnv_APIKeys(t *testing.T) {
	t.Setenv("CHAT_SERVICE_API_KEYS_WEB_UI", "key-one,key-two")
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyExtraEnv())
	require.Equal(t, "web_ui", cfg.APIKeys["key-one"])
	require.Equal(t, "web_ui", cfg.APIKeys["key-two"])
}

func TestApplyExtraEnv_Durations(t *testing.T) {
	t.Setenv("CHAT_SERVICE_CACHE_TTL", "5m")
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyExtraEnv())
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestApplyExtraEnv_InvalidBool(t *testing.T) {
	t.Setenv("CHAT_SERVICE_CORS_ENABLED", "not-a-bool")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyExtraEnv())
}
