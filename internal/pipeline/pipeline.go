// Package pipeline assembles the detection service from configuration.
package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"plate-reader/internal/config"
	"plate-reader/internal/detect"
	"plate-reader/internal/ocr"
)

// Pipeline owns the detector and recognizer behind a detection service.
type Pipeline struct {
	Service *detect.Service
	closers []io.Closer
}

// YOLOOptions maps detector configuration onto the YOLO detector.
func YOLOOptions(cfg config.DetectorConfig) detect.YOLOOptions {
	return detect.YOLOOptions{
		ModelPath:     cfg.Model,
		InputSize:     cfg.InputSize,
		ConfThreshold: cfg.Confidence,
		NMSThreshold:  cfg.NMS,
		Classes:       cfg.Classes,
	}
}

// TesseractOptions maps OCR configuration onto the Tesseract engine.
func TesseractOptions(cfg config.OCRConfig) ocr.TesseractOptions {
	return ocr.TesseractOptions{
		Language:  cfg.Language,
		Whitelist: cfg.Whitelist,
		Binarize:  cfg.Binarize,
	}
}

// Build loads the model and the configured OCR backend. status receives the
// service's progress messages and may be nil.
func Build(ctx context.Context, cfg *config.Config, status detect.StatusFunc, log zerolog.Logger) (*Pipeline, error) {
	p := &Pipeline{}

	yolo, err := detect.NewYOLO(YOLOOptions(cfg.Detector), log)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, yolo)

	var recognizer detect.Recognizer
	switch cfg.OCR.Backend {
	case config.BackendRekognition:
		r, err := ocr.NewRekognition(ctx, cfg.AWS.Region, log)
		if err != nil {
			p.Close()
			return nil, err
		}
		recognizer = r
	case config.BackendTesseract:
		e, err := ocr.NewEngine(TesseractOptions(cfg.OCR), log)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.closers = append(p.closers, e)
		recognizer = e
	default:
		p.Close()
		return nil, fmt.Errorf("%w: unknown ocr.backend %q", config.ErrInvalid, cfg.OCR.Backend)
	}

	p.Service = detect.NewService(yolo, recognizer, detect.Options{
		DetectTimeout:    cfg.Detector.Timeout,
		RecognizeTimeout: cfg.OCR.Timeout,
	}, status, log)

	log.Info().
		Str("model", cfg.Detector.Model).
		Str("ocr", cfg.OCR.Backend).
		Msg("detection pipeline ready")
	return p, nil
}

// Close releases the model and OCR engine.
func (p *Pipeline) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
