// Package session holds the in-memory log of plates detected during one run
// of the application.
package session

import (
	"time"

	"github.com/google/uuid"
)

const (
	// TimeLayout renders the time-of-day column.
	TimeLayout = "15:04:05"
	// DateLayout renders the calendar date column.
	DateLayout = "2006-01-02"
)

// Source identifies where the frame behind a detection came from.
type Source int

const (
	SourceLive  Source = iota // Camera feed
	SourceStill               // User-selected image file
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceStill:
		return "still"
	default:
		return "unknown"
	}
}

// Record is one recognized plate. Records are values; the log never hands out
// pointers into its storage.
type Record struct {
	ID       uuid.UUID
	At       time.Time
	Plate    string // Raw recognized text
	Province string
	Number   string
	Source   Source
}

// NewRecord stamps a detection with a fresh ID and the given time.
func NewRecord(at time.Time, plate, province, number string, source Source) Record {
	return Record{
		ID:       uuid.New(),
		At:       at,
		Plate:    plate,
		Province: province,
		Number:   number,
		Source:   source,
	}
}

// Time returns the wall-clock time of the detection as HH:MM:SS.
func (r Record) Time() string {
	return r.At.Format(TimeLayout)
}

// Date returns the calendar date of the detection as YYYY-MM-DD.
func (r Record) Date() string {
	return r.At.Format(DateLayout)
}
