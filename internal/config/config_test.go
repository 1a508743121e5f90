package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "webrtc", cfg.Engine)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, time.Second, cfg.RateLimit.Interval)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.STUNURLs)
	assert.Equal(t, 5*time.Second, cfg.WebRTC.GatherTimeout)
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
engine: memory
rate_limit:
  requests: 5
webrtc:
  public_ip: 203.0.113.7
  udp_port_min: 40000
  udp_port_max: 40100
`), 0o600))
	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_RATE_LIMIT_INTERVAL", "250ms")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "env overrides the file")
	assert.Equal(t, "memory", cfg.Engine)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.Interval)
	assert.Equal(t, "203.0.113.7", cfg.WebRTC.PublicIP)
	assert.Equal(t, uint16(40000), cfg.WebRTC.UDPPortMin)
	assert.Equal(t, uint16(40100), cfg.WebRTC.UDPPortMax)
}

func TestLoadFile_UnknownEngine(t *testing.T) {
	t.Setenv("HUDDLE_ENGINE", "mediasoup")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
