package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// ErrModelNotLoaded is returned when the detection model cannot be read.
var ErrModelNotLoaded = errors.New("detection model not loaded")

// YOLOOptions configures the YOLOv8 ONNX detector.
type YOLOOptions struct {
	ModelPath     string
	InputSize     int     // Square network input, normally 640
	ConfThreshold float32 // Minimum class score for a candidate
	NMSThreshold  float32 // IoU above which overlapping boxes are suppressed
	Classes       []int   // Class ids to keep; empty keeps all
}

// DefaultYOLOOptions returns options for the stock yolov8n export.
func DefaultYOLOOptions() YOLOOptions {
	return YOLOOptions{
		ModelPath:     "yolov8n.onnx",
		InputSize:     640,
		ConfThreshold: 0.25,
		NMSThreshold:  0.45,
	}
}

// YOLO detects objects with a YOLOv8 model through OpenCV's DNN module.
// gocv.Net is not safe for concurrent use, so Detect calls are serialized.
type YOLO struct {
	mu      sync.Mutex
	net     gocv.Net
	opts    YOLOOptions
	classes map[int]bool
	log     zerolog.Logger
}

// NewYOLO loads the ONNX model at opts.ModelPath.
func NewYOLO(opts YOLOOptions, log zerolog.Logger) (*YOLO, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, opts.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN target: %w", err)
	}

	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}

	y := &YOLO{
		net:  net,
		opts: opts,
		log:  log.With().Str("component", "yolo").Logger(),
	}
	if len(opts.Classes) > 0 {
		y.classes = make(map[int]bool, len(opts.Classes))
		for _, c := range opts.Classes {
			y.classes[c] = true
		}
	}

	y.log.Info().Str("model", opts.ModelPath).Int("input", opts.InputSize).Msg("model loaded")
	return y, nil
}

// Close releases the network.
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}

// Detect returns candidate boxes in image coordinates, best score first.
func (y *YOLO) Detect(ctx context.Context, img gocv.Mat) ([]image.Rectangle, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	size := image.Pt(y.opts.InputSize, y.opts.InputSize)
	blob := gocv.BlobFromImage(img, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	out := y.net.Forward("")
	y.mu.Unlock()
	defer out.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sx := float32(img.Cols()) / float32(y.opts.InputSize)
	sy := float32(img.Rows()) / float32(y.opts.InputSize)
	return y.postProcess(out, sx, sy)
}

// postProcess decodes the [1, 4+classes, anchors] YOLOv8 output tensor.
func (y *YOLO) postProcess(out gocv.Mat, sx, sy float32) ([]image.Rectangle, error) {
	dims := out.Size()
	if len(dims) != 3 || dims[1] <= 4 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]

	// One row per anchor: cx, cy, w, h, class scores...
	flat := out.Reshape(1, attrs)
	defer flat.Close()
	rows := gocv.NewMat()
	defer rows.Close()
	gocv.Transpose(flat, &rows)

	var boxes []image.Rectangle
	var scores []float32
	for i := 0; i < anchors; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := rows.GetFloatAt(i, c); s > bestScore {
				bestClass, bestScore = c-4, s
			}
		}
		if bestScore < y.opts.ConfThreshold {
			continue
		}
		if y.classes != nil && !y.classes[bestClass] {
			continue
		}

		cx := rows.GetFloatAt(i, 0) * sx
		cy := rows.GetFloatAt(i, 1) * sy
		w := rows.GetFloatAt(i, 2) * sx
		h := rows.GetFloatAt(i, 3) * sy
		boxes = append(boxes, image.Rect(
			int(cx-w/2), int(cy-h/2),
			int(cx+w/2), int(cy+h/2),
		))
		scores = append(scores, bestScore)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, y.opts.ConfThreshold, y.opts.NMSThreshold)
	kept := make([]image.Rectangle, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, boxes[idx])
	}

	y.log.Debug().Int("candidates", len(boxes)).Int("kept", len(kept)).Msg("detections")
	return kept, nil
}
