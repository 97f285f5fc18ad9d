package export

import (
	"encoding/csv"
	"fmt"
	"os"
)

// CSVWriter writes UTF-8 comma-separated values with a byte order mark so
// spreadsheet programs pick up the Vietnamese province names correctly.
type CSVWriter struct{}

func (CSVWriter) Write(path string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := f.WriteString("\ufeff"); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
