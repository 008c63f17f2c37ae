package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "oa-approvals", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: oa-test
  environment: test
server:
  port: 9000
  request_timeout: 5s
store: memory
events:
  driver: gochannel
  subject_prefix: events.oa
`), 0o600))

	t.Setenv("OA_HTTP_PORT", "9100")
	t.Setenv("OA_CACHE_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "oa-test", cfg.Service.Name)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "gochannel", cfg.Events.Driver)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"OA_STORE": "sqlite"}},
		{"redis without addr", map[string]string{"OA_CACHE_DRIVER": "redis"}},
		{"nats without url", map[string]string{"OA_EVENTS_DRIVER": "nats"}},
		{"short secret", map[string]string{"OA_JWT_SECRET": "short"}},
		{"bad port", map[string]string{"OA_HTTP_PORT": "eighty"}},
		{"bad duration", map[string]string{"OA_TOKEN_TTL": "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
