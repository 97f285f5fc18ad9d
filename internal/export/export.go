// Package export writes the session log to a spreadsheet file.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"plate-reader/internal/session"
)

const (
	// DefaultExt is appended to paths chosen without an extension.
	DefaultExt = ".xlsx"
	// DefaultFileName is offered in the save dialog.
	DefaultFileName = "detected_license_plates.xlsx"
)

// Header is the first row of every export.
var Header = []string{"Time", "Date", "Plate", "Province", "Number"}

var (
	// ErrEmptyLog is returned when there is nothing to export.
	ErrEmptyLog = errors.New("no detections to export")
	// ErrNoWriter is returned when no writer is available for the chosen
	// file type.
	ErrNoWriter = errors.New("no writer available for file type")
)

// Writer serializes rows to a file. rows[0] is the header.
type Writer interface {
	Write(path string, rows [][]string) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(path string, rows [][]string) error

func (f WriterFunc) Write(path string, rows [][]string) error { return f(path, rows) }

// Exporter picks a writer by file extension.
type Exporter struct {
	writers map[string]Writer
	log     zerolog.Logger
}

// New creates an exporter with the xlsx and csv writers registered.
func New(log zerolog.Logger) *Exporter {
	e := &Exporter{
		writers: make(map[string]Writer),
		log:     log.With().Str("component", "export").Logger(),
	}
	e.Register(".xlsx", XLSXWriter{})
	e.Register(".csv", CSVWriter{})
	return e
}

// Register adds or replaces the writer for ext (".xlsx"). A nil writer
// removes it.
func (e *Exporter) Register(ext string, w Writer) {
	ext = strings.ToLower(ext)
	if w == nil {
		delete(e.writers, ext)
		return
	}
	e.writers[ext] = w
}

// Formats lists the registered extensions.
func (e *Exporter) Formats() []string {
	exts := make([]string, 0, len(e.writers))
	for ext := range e.writers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Export writes records to path and returns the path actually written, which
// gains DefaultExt when path has no extension. Nothing is written for an
// empty record list.
func (e *Exporter) Export(path string, records []session.Record) (string, error) {
	if len(records) == 0 {
		return "", ErrEmptyLog
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = DefaultExt
		path += DefaultExt
	}

	w, ok := e.writers[ext]
	if !ok {
		return "", fmt.Errorf("%w %q: save as one of %s", ErrNoWriter, ext, strings.Join(e.Formats(), ", "))
	}

	if err := w.Write(path, Rows(records)); err != nil {
		e.log.Error().Err(err).Str("path", path).Msg("export failed")
		return "", fmt.Errorf("failed to export %s: %w", filepath.Base(path), err)
	}

	e.log.Info().Str("path", path).Int("records", len(records)).Msg("exported")
	return path, nil
}

// RemoveEmpty deletes path if it is an empty regular file. Save dialogs
// create the chosen file before the exporter runs; when the export went
// elsewhere or failed, that placeholder is removed. Missing files are fine.
func RemoveEmpty(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() || info.Size() != 0 {
		return nil
	}
	return os.Remove(path)
}

// Rows renders records as a header row followed by one row per record.
func Rows(records []session.Record) [][]string {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, Header)
	for _, r := range records {
		rows = append(rows, []string{r.Time(), r.Date(), r.Plate, r.Province, r.Number})
	}
	return rows
}
