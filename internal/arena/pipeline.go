// Package arena runs the frame loop: it reads the camera, detects and
// smooths every marker, classifies zones and collisions and publishes one
// snapshot per frame.
package arena

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mecathron/arena-tracker/internal/config"
	"github.com/mecathron/arena-tracker/internal/state"
	"github.com/mecathron/arena-tracker/internal/tracking"
	"github.com/mecathron/arena-tracker/internal/vision"
)

var (
	// ErrReconnectFailed is returned by Run when the camera could not be
	// reopened.
	ErrReconnectFailed = errors.New("camera reconnection failed")

	errReadFailed = errors.New("camera read failed")
	errEmptyFrame = errors.New("empty frame captured")
)

// Backoff controls how the camera is reopened after the circuit opens.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, 4s ... up to a minute, ten times.
var DefaultBackoff = Backoff{Base: time.Second, Max: 60 * time.Second, MaxAttempts: 10}

// StopColor is the optional colour that marks the arena halted.
type StopColor struct {
	Color   vision.ColorRange
	MinArea float64
}

// Config is everything the frame loop needs.
type Config struct {
	// ROI is the region of interest in frame coordinates.
	ROI image.Rectangle
	// Markers are detected in this order; NewConfig sorts them by identifier.
	Markers   []vision.Marker
	Zones     map[string]tracking.Rect
	Stop      *StopColor
	Alpha     float64
	Detection vision.Options
	Collision tracking.CollisionDetector

	ReportInterval time.Duration
	Backoff        Backoff
}

// NewConfig combines the arena document with the service settings.
func NewConfig(a *config.Arena, s *config.Settings) Config {
	cfg := Config{
		ROI:   image.Rect(a.ROI.X, a.ROI.Y, a.ROI.X+a.ROI.W, a.ROI.Y+a.ROI.H),
		Zones: make(map[string]tracking.Rect, len(a.Zones)),
		Alpha: s.Smoothing.Alpha,
		Detection: vision.Options{
			MinArea:    s.Detection.MinArea,
			KernelSize: s.Detection.KernelSize,
		},
		Collision: tracking.CollisionDetector{
			Radius: s.Collision.Radius,
			Roles:  tracking.Roles{Primary: s.Roles.Primary, Secondary: s.Roles.Secondary},
		},
		ReportInterval: s.Metrics.ReportInterval,
		Backoff:        DefaultBackoff,
	}
	for _, id := range a.MarkerIDs() {
		c := a.Markers[id]
		cfg.Markers = append(cfg.Markers, vision.Marker{
			ID:    id,
			Color: vision.ColorRange{Lower: c.Lower, Upper: c.Upper},
		})
	}
	for id, r := range a.Zones {
		cfg.Zones[id] = tracking.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
	}
	if a.Stop != nil {
		cfg.Stop = &StopColor{
			Color:   vision.ColorRange{Lower: a.Stop.Lower, Upper: a.Stop.Upper},
			MinArea: a.Stop.MinArea,
		}
	}
	return cfg
}

// Frame is one processed camera frame.
type Frame struct {
	// Image is the full camera frame. It is only valid during Observe.
	Image gocv.Mat
	// ROI is the clamped region the markers were searched in.
	ROI        image.Rectangle
	Detections []vision.Detection
	Snapshot   *state.Snapshot
}

// Observer sees every processed frame on the loop goroutine. A non-nil
// error stops Run, which returns it.
type Observer interface {
	Observe(f Frame) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers o to see every frame.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// Pipeline owns the camera and the smoothing history.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	open   CameraOpener
	camera Camera
	latest *state.Latest

	smoother *tracking.Smoother
	detector *vision.Detector
	hsv      gocv.Mat

	breaker  *CircuitBreaker
	metrics  *Metrics
	observer Observer

	lastCollisions []string
	roiWarned      bool

	closeOnce sync.Once
}

// New opens the camera and prepares the loop. Failing to open the camera
// is fatal; the caller must Close the returned pipeline.
func New(cfg Config, open CameraOpener, latest *state.Latest, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	smoother, err := tracking.NewSmoother(cfg.Alpha)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		ids = append(ids, m.ID)
	}
	metrics, err := NewMetrics(ids)
	if err != nil {
		return nil, err
	}

	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	camera, err := open()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		open:     open,
		camera:   camera,
		latest:   latest,
		smoother: smoother,
		detector: vision.NewDetector(cfg.Detection),
		hsv:      gocv.NewMat(),
		breaker:  NewCircuitBreaker(5, 30*time.Second, 3, logger),
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(p)
	}

	logger.Debug("Pipeline initialized",
		"markers", ids,
		"zones", len(cfg.Zones),
		"roi", cfg.ROI.String(),
		"alpha", cfg.Alpha,
		"collision_radius", cfg.Collision.Radius,
		"stop_color", cfg.Stop != nil)

	return p, nil
}

// Metrics returns the loop's counters.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Close releases the camera and the OpenCV buffers. Call it only after Run
// has returned.
func (p *Pipeline) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		if p.camera != nil {
			if err := p.camera.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close camera: %w", err))
			}
			p.camera = nil
		}
		if err := p.detector.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.hsv.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Run processes frames as fast as the camera delivers them until ctx is
// cancelled, the camera is lost for good or the observer stops the loop.
// Cancellation is only checked between frames. A cancelled ctx is not an
// error.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reportMetrics(ctx)
	}()

	img := gocv.NewMat()
	defer img.Close()

	for {
		if ctx.Err() != nil {
			p.logger.Debug("Frame loop stopped")
			return nil
		}

		if err := p.breaker.Call(func() error { return p.read(&img) }); err != nil {
			if !errors.Is(err, ErrCircuitOpen) {
				p.metrics.RecordCaptureError()
				p.logger.Warn("Frame capture failed",
					"error", err,
					"circuit_state", p.breaker.GetState(),
					"capture_errors", p.metrics.CaptureErrors())
			}
			if p.breaker.GetState() != CircuitOpen {
				continue
			}
			if !p.reconnect(ctx) {
				if ctx.Err() != nil {
					return nil
				}
				return ErrReconnectFailed
			}
			p.breaker.Reset()
			continue
		}

		start := time.Now()
		f, ok := p.Process(img)
		if !ok {
			continue
		}
		primaryFound := p.cfg.Collision.Roles.FindPrimary(f.Snapshot.Markers) != nil
		p.metrics.RecordFrame(time.Since(start), primaryFound)

		if p.observer != nil {
			if err := p.observer.Observe(f); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) read(dst *gocv.Mat) error {
	if p.camera == nil {
		return errReadFailed
	}
	if !p.camera.Read(dst) {
		return errReadFailed
	}
	if dst.Empty() {
		return errEmptyFrame
	}
	return nil
}

// Process runs one frame through detection and fusion and publishes the
// snapshot. It reports false when the ROI lies outside the frame, in which
// case nothing is published.
func (p *Pipeline) Process(img gocv.Mat) (Frame, bool) {
	captured := time.Now()

	roi := vision.Clamp(p.cfg.ROI, img.Cols(), img.Rows())
	if roi.Empty() {
		p.metrics.RecordSkipped()
		if !p.roiWarned {
			p.logger.Warn("ROI lies outside the frame, skipping",
				"roi", p.cfg.ROI.String(),
				"frame_width", img.Cols(),
				"frame_height", img.Rows())
			p.roiWarned = true
		}
		return Frame{}, false
	}
	p.roiWarned = false

	crop := img.Region(roi)
	defer crop.Close()
	vision.ToHSV(crop, &p.hsv)

	dets := make([]vision.Detection, 0, len(p.cfg.Markers))
	for _, m := range p.cfg.Markers {
		if d, ok := p.detector.Detect(p.hsv, m); ok {
			dets = append(dets, d)
			p.metrics.RecordDetection(m.ID)
		}
	}

	var halted *bool
	if p.cfg.Stop != nil {
		h := p.detector.Present(p.hsv, p.cfg.Stop.Color, p.cfg.Stop.MinArea)
		halted = &h
	}

	snap := p.fuse(dets, roi.Min, halted)
	snap.CapturedAt = captured
	p.latest.Publish(snap)

	return Frame{Image: img, ROI: roi, Detections: dets, Snapshot: snap}, true
}

// fuse smooths the detections, moves them to global coordinates and derives
// zone occupancy and collisions. dets must be in marker order.
func (p *Pipeline) fuse(dets []vision.Detection, origin image.Point, halted *bool) *state.Snapshot {
	poses := make([]tracking.MarkerPose, 0, len(dets))
	for _, d := range dets {
		smoothed := p.smoother.Update(d.RawPose())
		poses = append(poses, smoothed.Translate(d.Marker, origin.X, origin.Y))
	}

	primary := p.cfg.Collision.Roles.FindPrimary(poses)
	zones := tracking.ClassifyZones(primary, p.cfg.Zones)

	hits := p.cfg.Collision.Detect(poses)
	if !slices.Equal(hits, p.lastCollisions) {
		if len(hits) > 0 {
			p.logger.Info("collision detected", "primary", primary.Marker, "markers", hits)
		} else {
			p.logger.Debug("collision cleared", "markers", p.lastCollisions)
		}
		p.lastCollisions = hits
	}

	return &state.Snapshot{
		Markers:    poses,
		Zones:      zones,
		Collisions: hits,
		Halted:     halted,
	}
}

// reconnect reopens the camera with exponential backoff and jitter.
func (p *Pipeline) reconnect(ctx context.Context) bool {
	if p.camera != nil {
		p.camera.Close()
		p.camera = nil
	}

	b := p.cfg.Backoff
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		p.metrics.RecordReconnect()
		p.logger.Info("Attempting camera reconnection",
			"attempt", attempt,
			"max_attempts", b.MaxAttempts)

		camera, err := p.open()
		if err == nil {
			p.camera = camera
			p.logger.Info("Camera reconnection successful",
				"attempt", attempt,
				"total_reconnect_attempts", p.metrics.ReconnectAttempts())
			return true
		}

		delay := time.Duration(float64(b.Base) * math.Pow(2, float64(attempt-1)))
		if delay > b.Max {
			delay = b.Max
		}
		if q := int64(delay / 4); q > 0 {
			delay += time.Duration(rand.Int63n(q))
		}

		p.logger.Warn("Camera reconnection failed, retrying",
			"attempt", attempt,
			"error", err,
			"retry_in", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}

	p.logger.Error("Camera reconnection failed after all attempts", "max_attempts", b.MaxAttempts)
	return false
}

// reportMetrics logs the loop counters every ReportInterval.
func (p *Pipeline) reportMetrics(ctx context.Context) {
	if p.cfg.ReportInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastFrameAge := p.metrics.LastFrameAge()
			circuit := p.breaker.GetState()

			p.logger.Info("Arena metrics report",
				"frames_processed", p.metrics.FramesProcessed(),
				"frames_skipped", p.metrics.FramesSkipped(),
				"primary_absent", p.metrics.PrimaryAbsent(),
				"capture_errors", p.metrics.CaptureErrors(),
				"reconnect_attempts", p.metrics.ReconnectAttempts(),
				"detections", p.metrics.detectionRates(),
				"avg_processing_time_ms", p.metrics.AvgProcessingTimeMs(),
				"last_frame_age_ms", lastFrameAge.Milliseconds(),
				"circuit_state", circuit,
				"snapshot_seq", p.latest.Seq())

			if lastFrameAge > p.cfg.ReportInterval {
				p.logger.Warn("Frame loop may be stalled", "last_frame_age", lastFrameAge)
			}
			if circuit == CircuitOpen {
				p.logger.Warn("Circuit breaker open",
					"failure_count", p.breaker.GetFailureCount(),
					"last_failure", p.breaker.GetLastFailureTime())
			}
		}
	}
}
