// Package state holds the fused arena snapshot shared between the frame loop
// and the publisher.
package state

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/mecathron/arena-tracker/internal/tracking"
)

// Snapshot is the fused state of one processed frame. A published Snapshot
// is never modified again; the frame loop builds a fresh one every frame.
type Snapshot struct {
	// Seq is the frame number, starting at 1. Set by Latest.Publish.
	Seq        uint64
	CapturedAt time.Time

	// Markers holds the markers detected in this frame, in global
	// coordinates, ordered by identifier.
	Markers []tracking.MarkerPose
	// Zones has exactly one entry per configured zone.
	Zones map[string]bool
	// Collisions lists secondary markers touching the primary marker.
	Collisions []string

	// Halted is nil unless a stop colour is configured.
	Halted *bool
}

// Latest is a single-slot cell holding the current snapshot. Publish swaps
// the whole snapshot in one atomic store, so readers always see a complete
// frame. The zero value is ready to use and holds no snapshot.
type Latest struct {
	cur atomic.Pointer[Snapshot]
	seq atomic.Uint64
}

// Publish stamps s with the next sequence number and makes it current.
// It never blocks.
func (l *Latest) Publish(s *Snapshot) uint64 {
	s.Seq = l.seq.Add(1)
	l.cur.Store(s)
	return s.Seq
}

// Load returns the current snapshot, or nil if none was published yet.
func (l *Latest) Load() *Snapshot {
	return l.cur.Load()
}

// Seq returns the sequence number of the current snapshot, 0 if none.
func (l *Latest) Seq() uint64 {
	if s := l.cur.Load(); s != nil {
		return s.Seq
	}
	return 0
}

// The wire names below are read by the rendering and logging clients.
type wireMarker struct {
	Marker string  `json:"personagem"`
	X      int     `json:"x_global"`
	Y      int     `json:"y_global"`
	Angle  float64 `json:"angulo_graus"`
}

type wireSnapshot struct {
	Markers    []wireMarker    `json:"objetos"`
	Zones      map[string]bool `json:"zonas"`
	Halted     *bool           `json:"parada,omitempty"`
	Collisions []string        `json:"colisoes,omitempty"`
}

// EncodeOptions controls the optional payload fields.
type EncodeOptions struct {
	IncludeCollisions bool
}

// Payload serializes s into the message pushed to subscribers.
func (s *Snapshot) Payload(opts EncodeOptions) ([]byte, error) {
	w := wireSnapshot{
		Markers: make([]wireMarker, 0, len(s.Markers)),
		Zones:   s.Zones,
		Halted:  s.Halted,
	}
	if w.Zones == nil {
		w.Zones = map[string]bool{}
	}
	for _, m := range s.Markers {
		w.Markers = append(w.Markers, wireMarker{
			Marker: m.Marker,
			X:      m.X,
			Y:      m.Y,
			Angle:  tracking.RoundAngle(m.Angle),
		})
	}
	if opts.IncludeCollisions {
		w.Collisions = s.Collisions
	}
	return json.Marshal(w)
}
