package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecathron/arena-tracker/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			want: &Config{
				ArenaPath: config.DefaultArenaPath,
				LogFormat: "json",
				LogLevel:  slog.LevelInfo,
			},
		},
		{
			name: "all options",
			args: []string{
				"-arena", "arena.json",
				"-settings", "tracker.yaml",
				"-logfmt", "kv",
				"-loglevel", "debug",
				"-preview",
			},
			want: &Config{
				ArenaPath:    "arena.json",
				SettingsPath: "tracker.yaml",
				LogFormat:    "kv",
				LogLevel:     slog.LevelDebug,
				Preview:      true,
			},
		},
		{
			name:    "empty arena path",
			args:    []string{"-arena", ""},
			wantErr: true,
		},
		{
			name:    "invalid log format",
			args:    []string{"-logfmt", "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			args:    []string{"-loglevel", "loud"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-url", "rtsp://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origArgs := os.Args
			defer func() { os.Args = origArgs }()
			os.Args = append([]string{"arena-tracker"}, tt.args...)

			got, err := parseFlags()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseFlags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  slog.Level
	}{
		{name: "json logger", format: "json", level: slog.LevelInfo},
		{name: "kv logger", format: "kv", level: slog.LevelDebug},
		{name: "default to json", format: "invalid", level: slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := setupLogger(tt.format, tt.level)
			require.NotNil(t, logger)
			assert.True(t, logger.Enabled(context.Background(), tt.level))
			assert.False(t, logger.Enabled(context.Background(), tt.level-1))
		})
	}
}

func TestRunFailsWithoutArenaDocument(t *testing.T) {
	cfg := &Config{ArenaPath: filepath.Join(t.TempDir(), "missing.json"), LogFormat: "json"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), cfg, logger)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunFailsOnInvalidArenaDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ROI": [0, 0, 10], "Cores": {}}`), 0o600))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), &Config{ArenaPath: path}, logger)
	assert.Error(t, err)
}

func TestRunFailsOnInvalidSettings(t *testing.T) {
	t.Setenv("ARENATRACK_SMOOTHING_ALPHA", "2")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), &Config{ArenaPath: config.DefaultArenaPath}, logger)
	assert.ErrorContains(t, err, "smoothing.alpha")
}
