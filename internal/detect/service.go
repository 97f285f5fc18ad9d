// Package detect finds a license plate in an image and reads its text.
//
// The heavy lifting is delegated: a Detector proposes candidate plate boxes
// and a Recognizer reads text from a normalized crop of each box. Service
// glues the two together and short-circuits on the first box that yields
// text.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Texts reported instead of plate text.
const (
	TextCannotLoad = "Lỗi: Không thể tải ảnh."
	TextNoPlate    = "No license plate detected."
)

// Status messages published while a detection runs.
const (
	StatusProcessing = "Đang xử lý ảnh..."
	StatusSuccess    = "Đã nhận diện biển số thành công!"
	StatusNotFound   = "Không tìm thấy biển số xe."
)

// PlateSize is the canonical size crops are normalized to before OCR.
var PlateSize = image.Pt(300, 100)

// ErrTimeout is returned when an external call exceeds its time budget.
var ErrTimeout = errors.New("timed out")

// Detector proposes candidate plate regions in a BGR image.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]image.Rectangle, error)
}

// Recognizer reads text fragments, in reading order, from a single-channel
// plate image.
type Recognizer interface {
	Recognize(ctx context.Context, img gocv.Mat) ([]string, error)
}

// StatusFunc receives human-readable progress messages.
type StatusFunc func(msg string)

// Result is the outcome of one detection.
type Result struct {
	Text  string   // Plate text, or one of the Text* sentinels
	Found bool     // True when Text is recognized plate text
	Plate gocv.Mat // Color crop of the plate; empty unless Found
	Box   image.Rectangle
	Err   error // Last external failure, if any
}

// Close releases the plate crop.
func (r *Result) Close() error {
	if r.Found {
		return r.Plate.Close()
	}
	return nil
}

// Options bounds the time spent in external calls. Zero disables a bound.
type Options struct {
	DetectTimeout    time.Duration
	RecognizeTimeout time.Duration
}

// Service runs the detect-crop-recognize pipeline.
type Service struct {
	detector   Detector
	recognizer Recognizer
	opts       Options
	status     StatusFunc
	log        zerolog.Logger
}

// NewService creates a detection service. status may be nil.
func NewService(detector Detector, recognizer Recognizer, opts Options, status StatusFunc, log zerolog.Logger) *Service {
	if status == nil {
		status = func(string) {}
	}
	return &Service{
		detector:   detector,
		recognizer: recognizer,
		opts:       opts,
		status:     status,
		log:        log.With().Str("component", "detect").Logger(),
	}
}

// Detect looks for a plate in img. The input is not modified. Callers must
// Close the result when Found is true.
func (s *Service) Detect(ctx context.Context, img gocv.Mat) Result {
	if img.Ptr() == nil || img.Empty() {
		s.log.Warn().Msg("empty input image")
		return Result{Text: TextCannotLoad}
	}

	s.status(StatusProcessing)
	start := time.Now()

	// The detector gets its own copy: after a timeout it may still be running
	// while the caller reuses img.
	input := img.Clone()
	boxes, err := callWithTimeout(ctx, s.opts.DetectTimeout, func(ctx context.Context) ([]image.Rectangle, error) {
		defer input.Close()
		return s.detector.Detect(ctx, input)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("detector failed")
		s.status(StatusNotFound)
		return Result{Text: TextNoPlate, Err: fmt.Errorf("detect: %w", err)}
	}

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	var lastErr error
	for i, box := range boxes {
		box = box.Intersect(bounds)
		if box.Empty() {
			continue
		}

		text, err := s.recognizeBox(ctx, img, box)
		if err != nil {
			s.log.Warn().Err(err).Int("box", i).Msg("recognition failed")
			lastErr = fmt.Errorf("recognize: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if text == "" {
			continue
		}

		region := img.Region(box)
		crop := region.Clone()
		region.Close()

		s.log.Info().
			Str("plate", text).
			Int("box", i).
			Int("candidates", len(boxes)).
			Dur("took", time.Since(start)).
			Msg("plate recognized")
		s.status(StatusSuccess)
		return Result{Text: text, Found: true, Plate: crop, Box: box}
	}

	s.log.Debug().Int("candidates", len(boxes)).Dur("took", time.Since(start)).Msg("no plate text")
	s.status(StatusNotFound)
	return Result{Text: TextNoPlate, Err: lastErr}
}

// recognizeBox crops box out of img, normalizes it to a grayscale PlateSize
// image and returns the recognized fragments joined by single spaces.
func (s *Service) recognizeBox(ctx context.Context, img gocv.Mat, box image.Rectangle) (string, error) {
	region := img.Region(box)
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if region.Channels() == 1 {
		region.CopyTo(&gray)
	} else {
		gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)
	}

	resized := gocv.NewMat()
	gocv.Resize(gray, &resized, PlateSize, 0, 0, gocv.InterpolationLinear)

	fragments, err := callWithTimeout(ctx, s.opts.RecognizeTimeout, func(ctx context.Context) ([]string, error) {
		defer resized.Close()
		return s.recognizer.Recognize(ctx, resized)
	})
	if err != nil {
		return "", err
	}
	return JoinFragments(fragments), nil
}

// JoinFragments concatenates OCR fragments with single spaces and trims the
// result.
func JoinFragments(fragments []string) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f)
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}
