package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ARENATRACK_PUBLISH_LISTENADDR.
const EnvPrefix = "ARENATRACK"

// CameraSettings selects and configures the capture device.
type CameraSettings struct {
	// Device is a camera index ("1") or a stream URL or video file path.
	Device string `mapstructure:"device"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	FPS    int    `mapstructure:"fps"`
}

// Source returns the value to hand to the capture backend: an int for
// camera indices, the string otherwise.
func (c CameraSettings) Source() interface{} {
	if id, err := strconv.Atoi(c.Device); err == nil {
		return id
	}
	return c.Device
}

// SmoothingSettings tunes the pose smoother.
type SmoothingSettings struct {
	Alpha float64 `mapstructure:"alpha"`
}

// DetectionSettings tunes the marker detector.
type DetectionSettings struct {
	// MinArea gates contours by area in px²; it must be positive.
	MinArea    float64 `mapstructure:"minArea"`
	KernelSize int     `mapstructure:"kernelSize"`
}

// CollisionSettings tunes the collision detector.
type CollisionSettings struct {
	Radius int `mapstructure:"radius"`
}

// RoleSettings holds identifier patterns for the marker roles.
type RoleSettings struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

// PublishSettings configures the subscriber-facing WebSocket server.
type PublishSettings struct {
	ListenAddr        string        `mapstructure:"listenAddr"`
	Path              string        `mapstructure:"path"`
	Interval          time.Duration `mapstructure:"interval"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	MaxClients        int           `mapstructure:"maxClients"`
	IncludeCollisions bool          `mapstructure:"includeCollisions"`
}

// MetricsSettings configures the periodic metrics report.
type MetricsSettings struct {
	ReportInterval time.Duration `mapstructure:"reportInterval"`
}

// Settings is the service configuration.
type Settings struct {
	Camera    CameraSettings    `mapstructure:"camera"`
	Smoothing SmoothingSettings `mapstructure:"smoothing"`
	Detection DetectionSettings `mapstructure:"detection"`
	Collision CollisionSettings `mapstructure:"collision"`
	Roles     RoleSettings      `mapstructure:"roles"`
	Publish   PublishSettings   `mapstructure:"publish"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.device", "1")
	v.SetDefault("camera.width", 1920)
	v.SetDefault("camera.height", 1080)
	v.SetDefault("camera.fps", 30)

	v.SetDefault("smoothing.alpha", 0.15)

	v.SetDefault("detection.minArea", 50)
	v.SetDefault("detection.kernelSize", 5)

	v.SetDefault("collision.radius", 60)

	v.SetDefault("roles.primary", "pac-man")
	v.SetDefault("roles.secondary", "fantasma")

	v.SetDefault("publish.listenAddr", "127.0.0.1:8765")
	v.SetDefault("publish.path", "/")
	v.SetDefault("publish.interval", 100*time.Millisecond)
	v.SetDefault("publish.writeTimeout", 2*time.Second)
	v.SetDefault("publish.maxClients", 16)
	v.SetDefault("publish.includeCollisions", false)

	v.SetDefault("metrics.reportInterval", 30*time.Second)
}

// LoadSettings builds the settings from defaults, the optional file at path
// and ARENATRACK_* environment variables, in increasing precedence.
// An empty path skips the file.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ranges of the tunables.
func (s *Settings) Validate() error {
	switch {
	case s.Camera.Device == "":
		return fmt.Errorf("camera.device must be set")
	case s.Smoothing.Alpha <= 0 || s.Smoothing.Alpha > 1:
		return fmt.Errorf("smoothing.alpha must be in (0, 1], got %v", s.Smoothing.Alpha)
	case s.Detection.MinArea <= 0:
		return fmt.Errorf("detection.minArea must be positive, got %v", s.Detection.MinArea)
	case s.Detection.KernelSize < 1 || s.Detection.KernelSize%2 == 0:
		return fmt.Errorf("detection.kernelSize must be odd and positive, got %d", s.Detection.KernelSize)
	case s.Collision.Radius <= 0:
		return fmt.Errorf("collision.radius must be positive, got %d", s.Collision.Radius)
	case s.Roles.Primary == "":
		return fmt.Errorf("roles.primary must be set")
	case s.Publish.ListenAddr == "":
		return fmt.Errorf("publish.listenAddr must be set")
	case !strings.HasPrefix(s.Publish.Path, "/"):
		return fmt.Errorf("publish.path must start with /, got %q", s.Publish.Path)
	case s.Publish.Interval <= 0:
		return fmt.Errorf("publish.interval must be positive, got %v", s.Publish.Interval)
	case s.Publish.WriteTimeout <= 0:
		return fmt.Errorf("publish.writeTimeout must be positive, got %v", s.Publish.WriteTimeout)
	case s.Publish.MaxClients < 1:
		return fmt.Errorf("publish.maxClients must be at least 1, got %d", s.Publish.MaxClients)
	case s.Metrics.ReportInterval <= 0:
		return fmt.Errorf("metrics.reportInterval must be positive, got %v", s.Metrics.ReportInterval)
	}
	return nil
}
