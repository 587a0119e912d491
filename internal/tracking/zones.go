package tracking

import "image"

// Rect is an axis-aligned rectangle in pixels.
type Rect struct {
	X, Y, W, H int
}

// Contains reports whether (px, py) lies in r. All four edges are inclusive,
// so a point exactly on the far corner (X+W, Y+H) is inside.
func (r Rect) Contains(px, py int) bool {
	return px >= r.X && px <= r.X+r.W && py >= r.Y && py <= r.Y+r.H
}

// Image converts r to an image.Rectangle (half-open, as image expects).
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// ClassifyZones reports, for every zone, whether the primary marker is in it.
// primary is nil when the primary marker was not seen this frame, in which
// case every zone is reported unoccupied. The result always holds exactly one
// entry per zone.
func ClassifyZones(primary *MarkerPose, zones map[string]Rect) map[string]bool {
	occupied := make(map[string]bool, len(zones))
	for id, r := range zones {
		occupied[id] = primary != nil && r.Contains(primary.X, primary.Y)
	}
	return occupied
}
