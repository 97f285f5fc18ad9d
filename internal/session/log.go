package session

import "sync"

// Log is an append-only, insertion-ordered list of detection records. It is
// safe for concurrent use by the capture goroutine and the UI.
type Log struct {
	mu      sync.RWMutex
	records []Record
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a record to the end of the log and returns the new length.
func (l *Log) Append(r Record) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return len(l.records)
}

// Records returns a copy of all records in insertion order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// At returns the record at index i.
func (l *Log) At(i int) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.records) {
		return Record{}, false
	}
	return l.records[i], true
}

// Last returns the most recent record, if any.
func (l *Log) Last() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[len(l.records)-1], true
}
