package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 3, cfg.Room.MaxConnectionAttempts)
	require.Equal(t, 2*time.Second, cfg.Room.RetryDelay)
	require.Equal(t, 2500*time.Millisecond, cfg.Room.ReactionDisplay)
	require.Equal(t, time.Second, cfg.Room.SpeakingInterval)
	require.Equal(t, "random", cfg.Room.SpeakingDetector)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Media.ICEServers)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9090
room:
  retry_delay: 500ms
  speaking_detector: activity
media:
  capture_video: false
database:
  driver: postgres
  name: huddle
`), 0o600))
	t.Setenv("HUDDLE_CLIENT_TOKEN", "tok")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 500*time.Millisecond, cfg.Room.RetryDelay)
	require.Equal(t, 3, cfg.Room.MaxConnectionAttempts)
	require.Equal(t, "activity", cfg.Room.SpeakingDetector)
	require.False(t, cfg.Media.CaptureVideo)
	require.True(t, cfg.Media.CaptureAudio)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "huddle", cfg.Database.Name)
	require.Equal(t, "tok", cfg.Client.Token)
}
