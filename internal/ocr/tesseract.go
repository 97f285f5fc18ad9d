// Package ocr provides text recognition backends for cropped license plates.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// PlateChars is the default character set for plate OCR. Vietnamese plates
// use upper-case Latin letters, digits and the separators '-' and '.'.
const PlateChars = "0123456789ABCDEFGHKLMNPSTUVXYZ-."

// TesseractOptions configures the Tesseract engine.
type TesseractOptions struct {
	Language  string // Tesseract language pack, e.g. "eng"
	Whitelist string // Empty disables the whitelist
	Binarize  bool   // Otsu threshold before recognition
}

// DefaultTesseractOptions returns options tuned for Vietnamese plates.
func DefaultTesseractOptions() TesseractOptions {
	return TesseractOptions{
		Language:  "eng",
		Whitelist: PlateChars,
		Binarize:  true,
	}
}

// Engine recognizes plate text with Tesseract. A gosseract client is not safe
// for concurrent use, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	opts   TesseractOptions
	log    zerolog.Logger
}

// NewEngine creates a new Tesseract engine.
func NewEngine(opts TesseractOptions, log zerolog.Logger) (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(opts.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Plates aren't dictionary words; keep Tesseract from "correcting" them.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")
	_ = client.SetVariable("language_model_penalty_non_freq_dict_word", "0")

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}

	return &Engine{
		client: client,
		opts:   opts,
		log:    log.With().Str("component", "tesseract").Logger(),
	}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// Recognize returns the words found in a single-channel plate image in
// reading order.
func (e *Engine) Recognize(ctx context.Context, img gocv.Mat) ([]string, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	processed := preprocess(img, e.opts.Binarize)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, fmt.Errorf("engine closed")
	}

	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	words := make([]string, 0, len(boxes))
	for _, box := range boxes {
		word := strings.ToUpper(strings.TrimSpace(box.Word))
		if word == "" {
			continue
		}
		words = append(words, word)
	}

	e.log.Debug().Strs("words", words).Msg("recognized")
	return words, nil
}

// preprocess prepares a grayscale plate for Tesseract. With binarize set it
// applies Otsu's threshold and makes sure the text ends up dark on light.
func preprocess(gray gocv.Mat, binarize bool) gocv.Mat {
	src := gray
	if gray.Channels() != 1 {
		src = gocv.NewMat()
		gocv.CvtColor(gray, &src, gocv.ColorBGRToGray)
		defer src.Close()
	}

	if !binarize {
		return src.Clone()
	}

	binary := gocv.NewMat()
	gocv.Threshold(src, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// OCR expects dark text on a light background
	white := gocv.CountNonZero(binary)
	if float64(white)/float64(binary.Rows()*binary.Cols()) < 0.5 {
		gocv.BitwiseNot(binary, &binary)
	}
	return binary
}
