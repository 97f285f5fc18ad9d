package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// DisplaySize is the size frames and still images are shown at.
var DisplaySize = image.Pt(640, 480)

// FrameToDisplay resizes a BGR camera frame to DisplaySize and converts it to
// an RGBA image the UI can draw. The input is not modified.
func FrameToDisplay(frame gocv.Mat) (*image.RGBA, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, DisplaySize, 0, 0, gocv.InterpolationLinear)

	return toRGBA(resized), nil
}

// StillToDisplay converts a BGR still image to RGBA and scales it to
// DisplaySize with a Lanczos filter.
func StillToDisplay(still gocv.Mat) (*image.NRGBA, error) {
	if still.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	return imaging.Resize(toRGBA(still), DisplaySize.X, DisplaySize.Y, imaging.Lanczos), nil
}

// PlateToDisplay converts a BGR or gray plate crop to an image for the results
// panel, keeping its aspect ratio at the given width.
func PlateToDisplay(plate gocv.Mat, width int) (*image.NRGBA, error) {
	if plate.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	return imaging.Resize(toRGBA(plate), width, 0, imaging.Lanczos), nil
}

// toRGBA converts a gray, BGR or BGRA Mat to an image.RGBA.
func toRGBA(m gocv.Mat) *image.RGBA {
	rgba := gocv.NewMat()
	defer rgba.Close()
	switch m.Channels() {
	case 1:
		gocv.CvtColor(m, &rgba, gocv.ColorGrayToRGBA)
	case 4:
		gocv.CvtColor(m, &rgba, gocv.ColorBGRAToRGBA)
	default:
		gocv.CvtColor(m, &rgba, gocv.ColorBGRToRGBA)
	}
	return matToRGBA(rgba)
}

// matToRGBA copies a continuous 4-channel 8-bit Mat into an image.RGBA.
func matToRGBA(m gocv.Mat) *image.RGBA {
	w, h := m.Cols(), m.Rows()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, m.ToBytes())
	return img
}
