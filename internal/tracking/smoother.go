package tracking

import (
	"fmt"
	"sort"
)

// DefaultAlpha is the blend weight given to each new raw pose.
const DefaultAlpha = 0.15

// pixelBias keeps blends that are mathematically whole numbers, such as
// 0.15*200 + 0.85*100, from truncating one pixel low.
const pixelBias = 1e-9

// Smoother applies exponential smoothing to marker poses.
//
// It owns one state per marker identifier for its whole lifetime. States are
// created on the first detection of a marker and are never removed, so a
// marker that drops out of view resumes from its last smoothed pose.
//
// The angle is blended linearly, not on the circle: a marker turning across
// 0°/360° briefly swings through the opposite direction. Consumers rely on
// this behaviour, so it is kept as is.
//
// A Smoother is not safe for concurrent use; the frame loop owns it.
type Smoother struct {
	alpha  float64
	states map[string]Pose
}

// NewSmoother returns a smoother with blend weight alpha in (0, 1].
func NewSmoother(alpha float64) (*Smoother, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("smoothing alpha must be in (0, 1], got %v", alpha)
	}
	return &Smoother{
		alpha:  alpha,
		states: make(map[string]Pose),
	}, nil
}

// Alpha returns the blend weight.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Update folds a raw detection into the marker's state and returns the new
// smoothed pose. The first detection of a marker is taken verbatim.
func (s *Smoother) Update(raw RawPose) Pose {
	prev, ok := s.states[raw.Marker]
	if !ok {
		p := Pose{X: raw.X, Y: raw.Y, Angle: WrapAngle(raw.Angle)}
		s.states[raw.Marker] = p
		return p
	}

	p := Pose{
		X:     s.blendPixel(raw.X, prev.X),
		Y:     s.blendPixel(raw.Y, prev.Y),
		Angle: WrapAngle(s.alpha*raw.Angle + (1-s.alpha)*prev.Angle),
	}
	s.states[raw.Marker] = p
	return p
}

// Last returns the current smoothed pose of a marker, if it was ever seen.
func (s *Smoother) Last(marker string) (Pose, bool) {
	p, ok := s.states[marker]
	return p, ok
}

// Markers lists every marker that has a state, sorted.
func (s *Smoother) Markers() []string {
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Smoother) blendPixel(raw, prev int) int {
	v := s.alpha*float64(raw) + (1-s.alpha)*float64(prev)
	if v < 0 {
		return int(v - pixelBias)
	}
	return int(v + pixelBias)
}
