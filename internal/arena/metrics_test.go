package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m, err := NewMetrics([]string{"pac-man", "fantasma_azul"})
	require.NoError(t, err)
	assert.Zero(t, m.LastFrameAge())

	m.RecordFrame(10*time.Millisecond, true)
	m.RecordFrame(10*time.Millisecond, false)
	m.RecordSkipped()
	m.RecordCaptureError()
	m.RecordCaptureError()
	m.RecordReconnect()
	m.RecordDetection("pac-man")
	m.RecordDetection("pac-man")
	m.RecordDetection("fantasma_azul")
	m.RecordDetection("unknown")

	assert.Equal(t, int64(2), m.FramesProcessed())
	assert.Equal(t, int64(1), m.FramesSkipped())
	assert.Equal(t, int64(1), m.PrimaryAbsent())
	assert.Equal(t, int64(2), m.CaptureErrors())
	assert.Equal(t, int64(1), m.ReconnectAttempts())
	assert.Equal(t, map[string]int64{"pac-man": 2, "fantasma_azul": 1}, m.Detections())
	assert.Equal(t, []string{"fantasma_azul=1", "pac-man=2"}, m.detectionRates())
	assert.Less(t, m.LastFrameAge(), time.Minute)
}

func TestMetricsProcessingTimeAverage(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	m.RecordFrame(100*time.Millisecond, true)
	assert.InDelta(t, 100, m.AvgProcessingTimeMs(), 1e-6)

	m.RecordFrame(200*time.Millisecond, true)
	assert.InDelta(t, 110, m.AvgProcessingTimeMs(), 1e-6)
}
