// Command platecheck runs plate detection on image files and prints what it
// reads, for tuning the model and OCR settings without the GUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"plate-reader/internal/config"
	"plate-reader/internal/export"
	plateimage "plate-reader/internal/image"
	"plate-reader/internal/logging"
	"plate-reader/internal/pipeline"
	"plate-reader/internal/plate"
	"plate-reader/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Config file (default: config.yaml lookup)")
	model := flag.String("model", "", "Override detector.model")
	backend := flag.String("ocr", "", "Override ocr.backend (tesseract or rekognition)")
	cropDir := flag.String("crops", "", "Directory to write normalized plate crops")
	out := flag.String("export", "", "Write results to this .xlsx or .csv file")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Usage: platecheck [-config file] [-model yolov8n.onnx] [-ocr tesseract] [-crops dir] [-export out.xlsx] <image>...")
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *model != "" {
		cfg.Detector.Model = *model
	}
	if *backend != "" {
		cfg.OCR.Backend = *backend
	}

	log := logging.New(cfg.Log)
	ctx := context.Background()

	pipe, err := pipeline.Build(ctx, cfg, nil, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise detection: %v\n", err)
		os.Exit(1)
	}
	defer pipe.Close()

	if *cropDir != "" {
		if err := os.MkdirAll(*cropDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create crop directory: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("%-32s %-14s %-22s %-10s %8s\n", "File", "Plate", "Province", "Number", "Time")
	fmt.Println(strings.Repeat("-", 90))

	records := session.NewLog()
	failed := 0
	for _, path := range flag.Args() {
		name := filepath.Base(path)

		img, err := plateimage.Load(path)
		if err != nil {
			fmt.Printf("%-32s %v\n", name, err)
			failed++
			continue
		}

		start := time.Now()
		res := pipe.Service.Detect(ctx, img)
		elapsed := time.Since(start)
		img.Close()

		if !res.Found {
			note := res.Text
			if res.Err != nil {
				note = res.Err.Error()
			}
			fmt.Printf("%-32s %-48s %8s\n", name, note, elapsed.Round(time.Millisecond))
			continue
		}

		province, number := plate.Extract(res.Text)
		records.Append(session.NewRecord(time.Now(), res.Text, province, number, session.SourceStill))
		fmt.Printf("%-32s %-14s %-22s %-10s %8s\n", name, res.Text, province, number, elapsed.Round(time.Millisecond))

		if *cropDir != "" {
			crop := filepath.Join(*cropDir, strings.TrimSuffix(name, filepath.Ext(name))+"_plate.png")
			if !gocv.IMWrite(crop, res.Plate) {
				fmt.Fprintf(os.Stderr, "Failed to write %s\n", crop)
			}
		}
		res.Close()
	}

	fmt.Printf("\n%d images, %d plates, %d unreadable\n", flag.NArg(), records.Len(), failed)

	if *out != "" {
		written, err := export.New(log).Export(*out, records.Records())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results written to %s\n", written)
	}
}
