package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Device is an opened camera. Read fills frame and reports success.
type Device interface {
	Read(frame *gocv.Mat) bool
	Close() error
}

// Opener opens the camera with the given index.
type Opener func(index int) (Device, error)

// OpenCamera returns an Opener for local video devices that requests the
// given frame rate. Drivers are free to ignore the request.
func OpenCamera(fps float64) Opener {
	return func(index int) (Device, error) {
		vc, err := gocv.OpenVideoCapture(index)
		if err != nil {
			return nil, err
		}
		if !vc.IsOpened() {
			vc.Close()
			return nil, fmt.Errorf("device %d not available", index)
		}
		if fps > 0 {
			vc.Set(gocv.VideoCaptureFPS, fps)
		}
		return vc, nil
	}
}
