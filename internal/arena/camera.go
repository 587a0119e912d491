package arena

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/mecathron/arena-tracker/internal/config"
)

// Camera is a source of BGR frames. *gocv.VideoCapture satisfies it.
type Camera interface {
	// Read fills dst with the next frame and reports whether it succeeded.
	Read(dst *gocv.Mat) bool
	Close() error
}

// CameraOpener opens the camera. The pipeline calls it once at startup and
// again whenever the camera has to be reopened.
type CameraOpener func() (Camera, error)

// OpenCamera returns an opener for the device described by s.
func OpenCamera(s config.CameraSettings) CameraOpener {
	return func() (Camera, error) {
		capture, err := gocv.OpenVideoCapture(s.Source())
		if err != nil {
			return nil, fmt.Errorf("failed to open camera %q: %w", s.Device, err)
		}
		if !capture.IsOpened() {
			capture.Close()
			return nil, fmt.Errorf("camera %q is not opened", s.Device)
		}

		if s.Width > 0 && s.Height > 0 {
			capture.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
			capture.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
		}
		if s.FPS > 0 {
			capture.Set(gocv.VideoCaptureFPS, float64(s.FPS))
		}
		return capture, nil
	}
}
