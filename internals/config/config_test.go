package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.MaxWorkers)
	assert.Equal(t, "least-loaded", cfg.Worker.Strategy)
	assert.Equal(t, uint32(1000000), cfg.Media.InitialAvailableOutgoingBitrate)
	assert.Equal(t, uint32(600000), cfg.Media.MinimumAvailableOutgoingBitrate)
	assert.Equal(t, uint32(1500000), cfg.Media.MaxIncomingBitrate)
	assert.Equal(t, 5*time.Second, cfg.Media.RequestTimeout)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SFU_MAX_WORKERS", "2")
	t.Setenv("SFU_WORKER_STRATEGY", "round-robin")
	t.Setenv("SFU_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SFU_PORT", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 2, cfg.Worker.MaxWorkers)
	assert.Equal(t, "round-robin", cfg.Worker.Strategy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Worker.MaxWorkers = 0 }},
		{"bad strategy", func(c *Config) { c.Worker.Strategy = "random" }},
		{"bitrate bounds", func(c *Config) { c.Media.MinimumAvailableOutgoingBitrate = 2000000 }},
		{"timeout", func(c *Config) { c.Media.RequestTimeout = 0 }},
		{"ports", func(c *Config) { c.WebRTC.UDPPortRange = PortRange{Min: 50000, Max: 40000} }},
		{"token without secret", func(c *Config) {
			c.Auth.RequireMediaToken = true
			c.Auth.JWTSecret = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
