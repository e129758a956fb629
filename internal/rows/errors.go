package rows

import "errors"

// MaxReportedErrors caps the row errors kept for a job report.
const MaxReportedErrors = 100

// Row error reasons.
const (
	ReasonMissingIdentifier = "missing identifier"
	ReasonInvalidPrice      = "invalid price"
	ReasonPriceOutOfRange   = "price out of range"
	ReasonMalformedRow      = "malformed row"
)

var (
	// ErrEmptyInput reports input without even a header row.
	ErrEmptyInput = errors.New("file is empty")

	// ErrUnreadable reports input the format reader could not open.
	ErrUnreadable = errors.New("file could not be read")
)

// RowError describes one skipped data row. Line is the 1-based line (CSV) or
// sheet row (XLSX) where the row starts; the header is line 1.
type RowError struct {
	Line   int               `json:"line"`
	Reason string            `json:"reason"`
	Row    map[string]string `json:"row,omitempty"`
}

// ErrorList accumulates row errors up to MaxReportedErrors. Entries past the
// cap are counted but not kept.
type ErrorList struct {
	items   []RowError
	dropped int
}

// Add records e, or counts it as dropped once the list is full.
func (l *ErrorList) Add(e RowError) {
	if len(l.items) >= MaxReportedErrors {
		l.dropped++
		return
	}
	l.items = append(l.items, e)
}

// Items returns a copy of the kept errors in the order they were added.
func (l *ErrorList) Items() []RowError {
	out := make([]RowError, len(l.items))
	copy(out, l.items)
	return out
}

// Total returns kept plus dropped errors.
func (l *ErrorList) Total() int {
	return len(l.items) + l.dropped
}

// Dropped returns how many errors exceeded the cap.
func (l *ErrorList) Dropped() int {
	return l.dropped
}
