package rows

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xlsxSource streams the first worksheet of a workbook. The zip container
// needs random access, so excelize buffers the archive; rows themselves are
// decoded one at a time.
type xlsxSource struct {
	f    *excelize.File
	rows *excelize.Rows
	line int
}

func openXLSX(r io.Reader) (*xlsxSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrUnreadable, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, ErrEmptyInput
	}

	rs, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrUnreadable, sheets[0], err)
	}
	return &xlsxSource{f: f, rows: rs}, nil
}

// next skips rows with no non-blank cell, matching how the CSV reader skips
// empty lines.
func (s *xlsxSource) next() (int, []string, error) {
	for s.rows.Next() {
		s.line++
		cols, err := s.rows.Columns()
		if err != nil {
			return 0, nil, fmt.Errorf("%w: row %d: %v", ErrUnreadable, s.line, err)
		}
		if !blank(cols) {
			return s.line, cols, nil
		}
	}
	if err := s.rows.Error(); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return 0, nil, io.EOF
}

func (s *xlsxSource) close() error {
	_ = s.rows.Close()
	return s.f.Close()
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
