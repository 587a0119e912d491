// Package preview shows the camera frame with the tracking overlay in a
// desktop window.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/mecathron/arena-tracker/internal/arena"
	"github.com/mecathron/arena-tracker/internal/tracking"
)

// ErrClosed is returned by Observe when the operator pressed q.
var ErrClosed = errors.New("preview closed by operator")

var (
	colorROI       = color.RGBA{R: 255, G: 255, B: 255}
	colorBox       = color.RGBA{R: 255, G: 0, B: 255}
	colorCenter    = color.RGBA{R: 255, G: 255}
	colorZoneFree  = color.RGBA{B: 255}
	colorZoneTaken = color.RGBA{G: 255}
	colorRing      = color.RGBA{R: 200, G: 200, B: 200}
	colorCollision = color.RGBA{R: 255}
)

const headingLength = 40

// Overlay draws the tracking state of f onto img, which must have the size
// of the camera frame.
type Overlay struct {
	Zones     map[string]tracking.Rect
	Collision tracking.CollisionDetector
}

// Draw renders the ROI, the raw marker boxes, the smoothed poses, the zones
// and the collision ring of the primary marker.
func (o Overlay) Draw(img *gocv.Mat, f arena.Frame) {
	gocv.Rectangle(img, f.ROI, colorROI, 1)

	snap := f.Snapshot

	ids := make([]string, 0, len(o.Zones))
	for id := range o.Zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := colorZoneFree
		if snap != nil && snap.Zones[id] {
			c = colorZoneTaken
		}
		r := o.Zones[id].Image()
		gocv.Rectangle(img, r, c, 2)
		gocv.PutText(img, id, r.Min.Add(image.Pt(4, 16)), gocv.FontHersheySimplex, 0.5, c, 1)
	}

	for _, d := range f.Detections {
		box := make([]image.Point, len(d.Box))
		for i, p := range d.Box {
			box[i] = p.Add(f.ROI.Min)
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{box})
		gocv.DrawContours(img, pv, -1, colorBox, 2)
		pv.Close()
	}

	if snap == nil {
		return
	}

	for _, m := range snap.Markers {
		center := image.Pt(m.X, m.Y)
		gocv.Circle(img, center, 4, colorCenter, -1)

		rad := m.Angle * math.Pi / 180
		tip := center.Add(image.Pt(
			int(math.Round(headingLength*math.Cos(rad))),
			int(math.Round(-headingLength*math.Sin(rad))),
		))
		gocv.ArrowedLine(img, center, tip, colorCenter, 2)

		label := fmt.Sprintf("%s %.0f", m.Marker, m.Angle)
		gocv.PutText(img, label, center.Add(image.Pt(8, -8)), gocv.FontHersheySimplex, 0.5, colorCenter, 1)
	}

	if primary := o.Collision.Roles.FindPrimary(snap.Markers); primary != nil {
		ring := colorRing
		if len(snap.Collisions) > 0 {
			ring = colorCollision
		}
		gocv.Circle(img, image.Pt(primary.X, primary.Y), 2*o.Collision.Radius, ring, 1)
	}

	legend := fmt.Sprintf("R = %d px, collision below %d px", o.Collision.Radius, 2*o.Collision.Radius)
	gocv.PutText(img, legend, image.Pt(10, img.Rows()-10), gocv.FontHersheySimplex, 0.5, colorROI, 1)
}

// Window is an arena.Observer that shows every frame.
type Window struct {
	overlay Overlay
	win     *gocv.Window
	canvas  gocv.Mat
}

// NewWindow opens a window titled title.
func NewWindow(title string, overlay Overlay) *Window {
	return &Window{
		overlay: overlay,
		win:     gocv.NewWindow(title),
		canvas:  gocv.NewMat(),
	}
}

// Observe draws f and polls the keyboard. It returns ErrClosed after q.
func (w *Window) Observe(f arena.Frame) error {
	f.Image.CopyTo(&w.canvas)
	w.overlay.Draw(&w.canvas, f)
	w.win.IMShow(w.canvas)

	switch w.win.WaitKey(1) {
	case 'q', 'Q':
		return ErrClosed
	}
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return errors.Join(w.canvas.Close(), w.win.Close())
}
