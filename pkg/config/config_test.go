package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.API.Listen)
	assert.Equal(t, "api.nanit.com", cfg.Cloud.Host)
	assert.Equal(t, 20, cfg.Cloud.EventsLimit)
	assert.Equal(t, "ffmpeg", cfg.HLS.FFmpegPath)
	assert.False(t, cfg.HLS.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  listen: ":9090"
camera:
  local_ip: 192.168.1.50
  uc_token: uc-secret
  prefer_local: true
hls:
  enabled: true
  dir: /var/lib/nanit/hls
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.Equal(t, "192.168.1.50", cfg.Camera.LocalIP)
	assert.True(t, cfg.Camera.PreferLocal)
	assert.True(t, cfg.HLS.Enabled)
	assert.Equal(t, "/var/lib/nanit/hls", cfg.HLS.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, "api.nanit.com", cfg.Cloud.Host)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NANIT_API_LISTEN", ":7000")
	t.Setenv("NANIT_LOCAL_IP", "10.0.0.9")
	t.Setenv("NANIT_PREFER_LOCAL", "true")
	t.Setenv("NANIT_API_RATE_LIMIT", "5.5")
	t.Setenv("NANIT_EVENTS_LIMIT", "50")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.API.Listen)
	assert.Equal(t, "10.0.0.9", cfg.Camera.LocalIP)
	assert.True(t, cfg.Camera.PreferLocal)
	assert.Equal(t, 5.5, cfg.API.RateLimit)
	assert.Equal(t, 50, cfg.Cloud.EventsLimit)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  listen: \":9090\"\n"), 0644))
	t.Setenv("NANIT_API_LISTEN", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.API.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "prefer local without ip",
			mutate:  func(c *Config) { c.Camera.PreferLocal = true },
			wantErr: "prefer_local",
		},
		{
			name:    "hls without dir",
			mutate:  func(c *Config) { c.HLS.Enabled = true; c.HLS.Dir = "" },
			wantErr: "hls.dir",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.API.RateLimit = 0 },
			wantErr: "rate_limit",
		},
		{
			name:    "empty listen",
			mutate:  func(c *Config) { c.API.Listen = "" },
			wantErr: "api.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
