package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "1", s.Camera.Device)
	assert.Equal(t, 1, s.Camera.Source())
	assert.Equal(t, 1920, s.Camera.Width)
	assert.Equal(t, 1080, s.Camera.Height)
	assert.Equal(t, 30, s.Camera.FPS)
	assert.Equal(t, 0.15, s.Smoothing.Alpha)
	assert.Equal(t, 50.0, s.Detection.MinArea)
	assert.Equal(t, 5, s.Detection.KernelSize)
	assert.Equal(t, 60, s.Collision.Radius)
	assert.Equal(t, "pac-man", s.Roles.Primary)
	assert.Equal(t, "fantasma", s.Roles.Secondary)
	assert.Equal(t, "127.0.0.1:8765", s.Publish.ListenAddr)
	assert.Equal(t, "/", s.Publish.Path)
	assert.Equal(t, 100*time.Millisecond, s.Publish.Interval)
	assert.Equal(t, 2*time.Second, s.Publish.WriteTimeout)
	assert.Equal(t, 16, s.Publish.MaxClients)
	assert.False(t, s.Publish.IncludeCollisions)
	assert.Equal(t, 30*time.Second, s.Metrics.ReportInterval)
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := writeFile(t, "arenatrack.json", `{
		"camera": {"device": "rtsp://cam.local/arena", "fps": 60},
		"smoothing": {"alpha": 0.3},
		"publish": {"interval": "250ms", "maxClients": 4, "includeCollisions": true}
	}`)

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://cam.local/arena", s.Camera.Source())
	assert.Equal(t, 60, s.Camera.FPS)
	assert.Equal(t, 1920, s.Camera.Width)
	assert.Equal(t, 0.3, s.Smoothing.Alpha)
	assert.Equal(t, 250*time.Millisecond, s.Publish.Interval)
	assert.Equal(t, 4, s.Publish.MaxClients)
	assert.True(t, s.Publish.IncludeCollisions)
}

func TestLoadSettingsEnvironmentOverride(t *testing.T) {
	t.Setenv("ARENATRACK_PUBLISH_LISTENADDR", "0.0.0.0:9000")
	t.Setenv("ARENATRACK_COLLISION_RADIUS", "45")

	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", s.Publish.ListenAddr)
	assert.Equal(t, 45, s.Collision.Radius)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings("/does/not/exist.json")
	assert.Error(t, err)
}

func TestLoadSettingsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"alpha zero", `{"smoothing": {"alpha": 0}}`},
		{"alpha above one", `{"smoothing": {"alpha": 1.5}}`},
		{"even kernel", `{"detection": {"kernelSize": 4}}`},
		{"zero min area", `{"detection": {"minArea": 0}}`},
		{"negative min area", `{"detection": {"minArea": -5}}`},
		{"zero radius", `{"collision": {"radius": 0}}`},
		{"no clients", `{"publish": {"maxClients": 0}}`},
		{"relative path", `{"publish": {"path": "ws"}}`},
		{"zero interval", `{"publish": {"interval": "0s"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(writeFile(t, "arenatrack.json", tt.doc))
			assert.Error(t, err)
		})
	}
}
