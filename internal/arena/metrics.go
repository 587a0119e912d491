package arena

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/mecathron/arena-tracker/internal/arena"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics tracks health of the frame loop. The atomic counters feed the
// periodic log report; every update is mirrored to the global OTel meter,
// which is a no-op unless a provider is installed.
type Metrics struct {
	framesProcessed   atomic.Int64
	framesSkipped     atomic.Int64
	primaryAbsent     atomic.Int64
	captureErrors     atomic.Int64
	reconnectAttempts atomic.Int64
	lastFrameTime     atomic.Int64
	avgProcessingNs   atomic.Int64

	// detections is fixed at construction, one counter per marker.
	detections map[string]*atomic.Int64

	otelFrames     metric.Int64Counter
	otelSkipped    metric.Int64Counter
	otelAbsent     metric.Int64Counter
	otelErrors     metric.Int64Counter
	otelReconnects metric.Int64Counter
	otelDetections metric.Int64Counter
	otelDuration   metric.Float64Histogram
}

// NewMetrics creates the counters for the given marker identifiers.
func NewMetrics(markers []string) (*Metrics, error) {
	m := &Metrics{detections: make(map[string]*atomic.Int64, len(markers))}
	for _, id := range markers {
		m.detections[id] = new(atomic.Int64)
	}

	mt := meter()
	var err error

	if m.otelFrames, err = mt.Int64Counter("arena.frames.processed",
		metric.WithDescription("Frames fused into a snapshot")); err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	if m.otelSkipped, err = mt.Int64Counter("arena.frames.skipped",
		metric.WithDescription("Frames skipped because the ROI lies outside them")); err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	if m.otelAbsent, err = mt.Int64Counter("arena.frames.primary_absent",
		metric.WithDescription("Frames in which the primary marker was not found")); err != nil {
		return nil, fmt.Errorf("creating primary absent counter: %w", err)
	}
	if m.otelErrors, err = mt.Int64Counter("arena.capture.errors",
		metric.WithDescription("Failed camera reads")); err != nil {
		return nil, fmt.Errorf("creating capture errors counter: %w", err)
	}
	if m.otelReconnects, err = mt.Int64Counter("arena.capture.reconnects",
		metric.WithDescription("Camera reopen attempts")); err != nil {
		return nil, fmt.Errorf("creating reconnects counter: %w", err)
	}
	if m.otelDetections, err = mt.Int64Counter("arena.marker.detections",
		metric.WithDescription("Frames in which a marker was found")); err != nil {
		return nil, fmt.Errorf("creating detections counter: %w", err)
	}
	if m.otelDuration, err = mt.Float64Histogram("arena.frame.duration",
		metric.WithDescription("Time to process one frame"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating frame duration histogram: %w", err)
	}

	return m, nil
}

// RecordFrame counts a processed frame.
func (m *Metrics) RecordFrame(took time.Duration, primaryFound bool) {
	ctx := context.Background()
	m.framesProcessed.Add(1)
	m.otelFrames.Add(ctx, 1)
	if !primaryFound {
		m.primaryAbsent.Add(1)
		m.otelAbsent.Add(ctx, 1)
	}
	m.lastFrameTime.Store(time.Now().UnixNano())
	m.updateProcessingTime(took)
	m.otelDuration.Record(ctx, float64(took)/float64(time.Millisecond))
}

// RecordSkipped counts a frame that could not be cropped.
func (m *Metrics) RecordSkipped() {
	m.framesSkipped.Add(1)
	m.otelSkipped.Add(context.Background(), 1)
}

// RecordDetection counts a frame in which marker was found.
func (m *Metrics) RecordDetection(marker string) {
	if c, ok := m.detections[marker]; ok {
		c.Add(1)
	}
	m.otelDetections.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("marker", marker)))
}

// RecordCaptureError counts a failed camera read.
func (m *Metrics) RecordCaptureError() {
	m.captureErrors.Add(1)
	m.otelErrors.Add(context.Background(), 1)
}

// RecordReconnect counts a camera reopen attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnectAttempts.Add(1)
	m.otelReconnects.Add(context.Background(), 1)
}

// updateProcessingTime folds took into an exponential moving average (α = 0.1).
func (m *Metrics) updateProcessingTime(took time.Duration) {
	sample := took.Nanoseconds()
	for {
		cur := m.avgProcessingNs.Load()
		next := sample
		if cur != 0 {
			next = int64(float64(cur)*0.9 + float64(sample)*0.1)
		}
		if m.avgProcessingNs.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (m *Metrics) FramesProcessed() int64   { return m.framesProcessed.Load() }
func (m *Metrics) FramesSkipped() int64     { return m.framesSkipped.Load() }
func (m *Metrics) PrimaryAbsent() int64     { return m.primaryAbsent.Load() }
func (m *Metrics) CaptureErrors() int64     { return m.captureErrors.Load() }
func (m *Metrics) ReconnectAttempts() int64 { return m.reconnectAttempts.Load() }

// AvgProcessingTimeMs returns the moving average of the frame processing time.
func (m *Metrics) AvgProcessingTimeMs() float64 {
	return float64(m.avgProcessingNs.Load()) / 1e6
}

// Detections returns the per-marker detection counts.
func (m *Metrics) Detections() map[string]int64 {
	out := make(map[string]int64, len(m.detections))
	for id, c := range m.detections {
		out[id] = c.Load()
	}
	return out
}

// LastFrameAge returns how long ago the last frame was processed, 0 if never.
func (m *Metrics) LastFrameAge() time.Duration {
	last := m.lastFrameTime.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// detectionRates returns "marker=count" pairs sorted by marker for the log report.
func (m *Metrics) detectionRates() []string {
	counts := m.Detections()
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf("%s=%d", id, counts[id]))
	}
	return out
}
