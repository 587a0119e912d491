// Package main runs the arena tracker: it follows coloured markers on a
// tabletop arena through an overhead camera and pushes the fused arena state
// to WebSocket subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mecathron/arena-tracker/internal/arena"
	"github.com/mecathron/arena-tracker/internal/config"
	"github.com/mecathron/arena-tracker/internal/preview"
	"github.com/mecathron/arena-tracker/internal/publish"
	"github.com/mecathron/arena-tracker/internal/state"
)

// Config holds the command-line options.
type Config struct {
	ArenaPath    string
	SettingsPath string
	LogFormat    string
	LogLevel     slog.Level
	Preview      bool
}

// parseFlags parses command-line arguments and returns the application configuration.
func parseFlags() (*Config, error) {
	// Own FlagSet so tests can parse repeatedly.
	fs := flag.NewFlagSet("arena-tracker", flag.ContinueOnError)

	var (
		arenaPath    = fs.String("arena", config.DefaultArenaPath, "Arena calibration document (ROI, colours, zones)")
		settingsPath = fs.String("settings", "", "Optional settings file (json, yaml or toml)")
		logfmt       = fs.String("logfmt", "json", "Log format: json or kv")
		loglevel     = fs.String("loglevel", "info", "Log level: debug, info, warn or error")
		showPreview  = fs.Bool("preview", false, "Show the camera frame with the tracking overlay")
	)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	if *arenaPath == "" {
		return nil, fmt.Errorf("arena flag must not be empty")
	}

	if *logfmt != "json" && *logfmt != "kv" {
		return nil, fmt.Errorf("logfmt must be 'json' or 'kv'")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*loglevel)); err != nil {
		return nil, fmt.Errorf("invalid loglevel %q: %w", *loglevel, err)
	}

	return &Config{
		ArenaPath:    *arenaPath,
		SettingsPath: *settingsPath,
		LogFormat:    *logfmt,
		LogLevel:     level,
		Preview:      *showPreview,
	}, nil
}

// setupLogger configures structured logging based on the specified format.
func setupLogger(format string, level slog.Level) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case "kv":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Arena tracker failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Arena tracker stopped")
}

// run loads the configuration, opens the camera and runs the frame loop and
// the publisher until ctx is cancelled or one of them fails.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return err
	}
	arenaDoc, err := config.LoadArena(cfg.ArenaPath)
	if err != nil {
		return err
	}

	logger.Info("Starting arena tracker",
		"arena", cfg.ArenaPath,
		"markers", arenaDoc.MarkerIDs(),
		"zones", len(arenaDoc.Zones),
		"camera", settings.Camera.Device,
		"listen_addr", settings.Publish.ListenAddr,
		"preview", cfg.Preview)

	pipeCfg := arena.NewConfig(arenaDoc, settings)
	latest := &state.Latest{}

	var opts []arena.Option
	if cfg.Preview {
		win := preview.NewWindow("arena tracker", preview.Overlay{
			Zones:     pipeCfg.Zones,
			Collision: pipeCfg.Collision,
		})
		defer win.Close()
		opts = append(opts, arena.WithObserver(win))
	}

	pipeline, err := arena.New(pipeCfg, arena.OpenCamera(settings.Camera), latest, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}
	defer pipeline.Close()

	publisher, err := publish.New(settings.Publish, latest, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		return publisher.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, preview.ErrClosed) {
		logger.Info("Preview closed, stopping")
		return nil
	}
	return err
}
