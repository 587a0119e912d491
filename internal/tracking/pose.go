// Package tracking turns per-frame marker detections into stable arena signals.
//
// It holds the pose smoother that filters raw detections across frames, the
// zone classifier and the collision detector. Nothing in this package touches
// image data; every type is plain Go and cheap to copy.
package tracking

import "math"

// RawPose is an unfiltered detection of one marker in a single frame,
// expressed in region-of-interest pixel coordinates.
type RawPose struct {
	Marker string
	X, Y   int
	// Angle is the orientation in degrees, in [0, 360).
	Angle float64
}

// Pose is a smoothed position and orientation.
type Pose struct {
	X, Y  int
	Angle float64
}

// MarkerPose is a smoothed pose translated into global frame coordinates.
type MarkerPose struct {
	Marker string
	X, Y   int
	Angle  float64
}

// Translate offsets p by the region-of-interest origin.
func (p Pose) Translate(marker string, dx, dy int) MarkerPose {
	return MarkerPose{
		Marker: marker,
		X:      p.X + dx,
		Y:      p.Y + dy,
		Angle:  RoundAngle(p.Angle),
	}
}

// WrapAngle maps any angle in degrees into [0, 360).
func WrapAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -1e-14 mod 360 + 360 rounds back up to 360 in float64.
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// RoundAngle rounds to two decimals and keeps the result in [0, 360).
func RoundAngle(deg float64) float64 {
	return WrapAngle(math.Round(deg*100) / 100)
}
