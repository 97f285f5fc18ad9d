// Package image loads still images and converts frames for display.
package image

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrUnreadable is returned when a file cannot be decoded as an image.
var ErrUnreadable = errors.New("image cannot be read")

// SupportedFormats returns the extensions offered in the open dialog.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tiff", ".tif"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// Load reads the image at path as a BGR matrix. OpenCV is tried first; formats
// it cannot decode (GIF, some TIFF variants) fall back to the Go decoders.
// The caller owns the returned Mat.
func Load(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	img, err := decodeFile(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	// ImageToMatRGB produces OpenCV's BGR channel order.
	mat, err = gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s decoded to an empty image", ErrUnreadable, path)
	}
	return mat, nil
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
