package preview

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/mecathron/arena-tracker/internal/arena"
	"github.com/mecathron/arena-tracker/internal/state"
	"github.com/mecathron/arena-tracker/internal/tracking"
	"github.com/mecathron/arena-tracker/internal/vision"
)

func bgrAt(m gocv.Mat, p image.Point) [3]uint8 {
	v := m.GetVecbAt(p.Y, p.X)
	return [3]uint8{v[0], v[1], v[2]}
}

func TestOverlayDraw(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	o := Overlay{
		Zones: map[string]tracking.Rect{
			"casa":  {X: 20, Y: 300, W: 80, H: 80},
			"longe": {X: 500, Y: 20, W: 80, H: 80},
		},
		Collision: tracking.CollisionDetector{Radius: 60, Roles: tracking.DefaultRoles()},
	}
	f := arena.Frame{
		ROI: image.Rect(10, 10, 630, 470),
		Detections: []vision.Detection{{
			Marker: "pac-man",
			Center: image.Pt(310, 230),
			Box:    []image.Point{{300, 220}, {320, 220}, {320, 240}, {300, 240}},
		}},
		Snapshot: &state.Snapshot{
			Markers: []tracking.MarkerPose{
				{Marker: "fantasma_azul", X: 400, Y: 240},
				{Marker: "pac-man", X: 320, Y: 240},
			},
			Zones:      map[string]bool{"casa": true, "longe": false},
			Collisions: []string{"fantasma_azul"},
		},
	}

	o.Draw(&img, f)

	assert.Equal(t, [3]uint8{0, 255, 0}, bgrAt(img, image.Pt(20, 300)), "occupied zone is green")
	assert.Equal(t, [3]uint8{255, 0, 0}, bgrAt(img, image.Pt(500, 20)), "free zone is blue")
	assert.Equal(t, [3]uint8{0, 0, 255}, bgrAt(img, image.Pt(320, 120)), "collision ring is red")
	assert.Equal(t, [3]uint8{255, 0, 255}, bgrAt(img, image.Pt(310, 230)), "box is offset by the ROI")
}

func TestOverlayWithoutSnapshot(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()

	o := Overlay{Zones: map[string]tracking.Rect{"casa": {X: 10, Y: 10, W: 20, H: 20}}}
	o.Draw(&img, arena.Frame{ROI: image.Rect(0, 0, 160, 120)})

	assert.Equal(t, [3]uint8{255, 0, 0}, bgrAt(img, image.Pt(10, 10)))
}
