// Package vision locates coloured markers in camera frames.
package vision

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/mecathron/arena-tracker/internal/tracking"
)

// Defaults for Options.
const (
	DefaultMinArea    = 50
	DefaultKernelSize = 5
)

// ColorRange is a closed HSV range in OpenCV units (H 0-180, S and V 0-255).
type ColorRange struct {
	Lower [3]float64
	Upper [3]float64
}

func (c ColorRange) scalars() (gocv.Scalar, gocv.Scalar) {
	return gocv.NewScalar(c.Lower[0], c.Lower[1], c.Lower[2], 0),
		gocv.NewScalar(c.Upper[0], c.Upper[1], c.Upper[2], 0)
}

// Marker names a marker and the colour it is painted with.
type Marker struct {
	ID    string
	Color ColorRange
}

// Detection is the raw result for one marker in one frame.
type Detection struct {
	Marker string
	// Center is the centre of the minimum-area rectangle, truncated to pixels.
	Center image.Point
	// Angle is the orientation in degrees, in [0, 360), two decimals.
	Angle float64
	// Area is the contour area in px².
	Area float64
	// Box holds the corners of the minimum-area rectangle.
	Box []image.Point
}

// RawPose converts d for the smoother.
func (d Detection) RawPose() tracking.RawPose {
	return tracking.RawPose{Marker: d.Marker, X: d.Center.X, Y: d.Center.Y, Angle: d.Angle}
}

// Options tunes a Detector.
type Options struct {
	// MinArea is the smallest contour area, in px², accepted as a marker.
	// Zero selects DefaultMinArea; there is no way to disable the gate.
	MinArea float64
	// KernelSize is the side of the square structuring element used to
	// erode and dilate the mask.
	KernelSize int
}

// Detector finds the dominant blob of a colour range in an HSV image.
//
// It keeps its intermediate Mats between calls, so it is not safe for
// concurrent use. Close releases them.
type Detector struct {
	minArea float64
	kernel  gocv.Mat
	mask    gocv.Mat
	cleaned gocv.Mat
}

// NewDetector allocates a detector. Zero options take the defaults.
func NewDetector(opts Options) *Detector {
	if opts.MinArea <= 0 {
		opts.MinArea = DefaultMinArea
	}
	if opts.KernelSize <= 0 {
		opts.KernelSize = DefaultKernelSize
	}
	return &Detector{
		minArea: opts.MinArea,
		kernel:  gocv.GetStructuringElement(gocv.MorphRect, image.Pt(opts.KernelSize, opts.KernelSize)),
		mask:    gocv.NewMat(),
		cleaned: gocv.NewMat(),
	}
}

// Close releases the detector's Mats.
func (d *Detector) Close() error {
	return closeAll(&d.kernel, &d.mask, &d.cleaned)
}

// closeAll closes every c, also after a failure, and joins the errors.
func closeAll(cs ...interface{ Close() error }) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToHSV converts a BGR frame to HSV into dst.
func ToHSV(frame gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(frame, dst, gocv.ColorBGRToHSV)
}

// Detect looks for marker m in an HSV image. It reports false when no blob
// of at least MinArea is found; that is the normal outcome for a marker
// that is out of view and not an error.
func (d *Detector) Detect(hsv gocv.Mat, m Marker) (Detection, bool) {
	contours := d.contours(hsv, m.Color)
	defer contours.Close()

	idx, area := largest(contours)
	if idx < 0 || area < d.minArea {
		return Detection{}, false
	}

	rect := gocv.MinAreaRect2f(contours.At(idx))
	box := make([]image.Point, len(rect.Points))
	for i, p := range rect.Points {
		box[i] = image.Pt(int(p.X), int(p.Y))
	}
	return Detection{
		Marker: m.ID,
		Center: image.Pt(int(rect.Center.X), int(rect.Center.Y)),
		Angle:  Orientation(float64(rect.Width), float64(rect.Height), rect.Angle),
		Area:   area,
		Box:    box,
	}, true
}

// Present reports whether the HSV image holds a blob of colour c with an
// area of at least minArea. The mask is not cleaned with morphology.
func (d *Detector) Present(hsv gocv.Mat, c ColorRange, minArea float64) bool {
	lower, upper := c.scalars()
	gocv.InRangeWithScalar(hsv, lower, upper, &d.mask)

	contours := gocv.FindContours(d.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	idx, area := largest(contours)
	return idx >= 0 && area >= minArea
}

func (d *Detector) contours(hsv gocv.Mat, c ColorRange) gocv.PointsVector {
	lower, upper := c.scalars()
	gocv.InRangeWithScalar(hsv, lower, upper, &d.mask)

	gocv.Erode(d.mask, &d.cleaned, d.kernel)
	gocv.Dilate(d.cleaned, &d.mask, d.kernel)

	return gocv.FindContours(d.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
}

// largest returns the index and area of the biggest contour, or -1.
func largest(contours gocv.PointsVector) (int, float64) {
	idx, maxArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if idx < 0 || area > maxArea {
			idx, maxArea = i, area
		}
	}
	return idx, maxArea
}

// Orientation turns the angle of a minimum-area rectangle into a marker
// heading. Tall rectangles are turned a quarter so the heading follows the
// long side, then the angle is negated so it grows counter-clockwise, wrapped
// into [0, 360) and rounded to two decimals.
// Sizes are compared unrounded, so a 20.6 x 20.9 box counts as tall.
func Orientation(width, height, angle float64) float64 {
	if width < height {
		angle -= 90
	}
	return tracking.RoundAngle(-angle)
}

// Clamp intersects roi with the frame bounds. The result is empty when roi
// lies entirely outside the frame.
func Clamp(roi image.Rectangle, cols, rows int) image.Rectangle {
	return roi.Intersect(image.Rect(0, 0, cols, rows))
}
