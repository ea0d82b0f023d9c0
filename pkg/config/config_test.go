package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelechio/floodgate/pkg/limiter"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "floodgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(20), cfg.MaxRequests)
	assert.Equal(t, 60, cfg.WindowSeconds)
	assert.Equal(t, 300, cfg.BanDurationSeconds)
	assert.True(t, cfg.AdminExempt)
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, limiter.DefaultRedisTimeout, cfg.Redis.Timeout)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
max_requests: 5
window_seconds: 10
ban_duration_seconds: 0
admin_exempt: true
exempt_actors: [1000, 2000]
backend: shared
redis:
  addr: redis.internal:6380
  db: 3
  timeout: 100ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.MaxRequests)
	assert.Equal(t, 10, cfg.WindowSeconds)
	assert.Zero(t, cfg.BanDurationSeconds)
	assert.Equal(t, []int64{1000, 2000}, cfg.ExemptActors)
	assert.Equal(t, BackendShared, cfg.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 100*time.Millisecond, cfg.Redis.Timeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLOODGATE_MAX_REQUESTS", "7")
	t.Setenv("FLOODGATE_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.MaxRequests)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_RefusesInvalidPolicy(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"non-positive max requests", "max_requests: 0\n", "max_requests"},
		{"negative max requests", "max_requests: -3\n", "max_requests"},
		{"non-positive window", "window_seconds: 0\n", "window_seconds"},
		{"negative ban duration", "ban_duration_seconds: -1\n", "ban_duration_seconds"},
		{"unknown backend", "backend: memcached\n", "unknown backend"},
		{"shared without addr", "backend: shared\nredis:\n  addr: \"\"\n", "redis.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_Policy(t *testing.T) {
	cfg := &Config{
		MaxRequests:        20,
		WindowSeconds:      60,
		BanDurationSeconds: 300,
		AdminExempt:        true,
		ExemptActors:       []int64{1000},
		Backend:            BackendLocal,
	}
	require.NoError(t, cfg.Validate())

	p := cfg.Policy()
	assert.Equal(t, int64(20), p.MaxRequests)
	assert.Equal(t, time.Minute, p.Window)
	assert.Equal(t, 5*time.Minute, p.BanDuration)
	assert.True(t, p.AdminExempt)
	assert.Equal(t, []limiter.Actor{limiter.ActorID(1000)}, p.ExemptActors)
	require.NoError(t, p.Validate(), "config validation implies a valid limiter policy")
}
