// Package rows decodes uploaded catalog files into records.
//
// Parse yields one Row per data row: either a normalized catalog.Record or a
// RowError describing why the row was skipped. A non-nil error from the
// sequence is fatal for the whole file (empty input, invalid UTF-8, an
// unreadable workbook) and ends iteration.
package rows

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// Format identifies the container of an uploaded file.
type Format int

const (
	FormatCSV Format = iota
	FormatXLSX
)

func (f Format) String() string {
	if f == FormatXLSX {
		return "xlsx"
	}
	return "csv"
}

// DetectFormat picks the format from a filename extension. Anything that is
// not a workbook is read as CSV.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Row is one parsed data row. Err is set when the row was rejected.
type Row struct {
	Line   int
	Record catalog.Record
	Err    *RowError
}

// source yields raw cells. next returns io.EOF after the last row and a
// *csv.ParseError for a row that could not be tokenized.
type source interface {
	next() (line int, cells []string, err error)
	close() error
}

func openSource(r io.Reader, format Format) (source, error) {
	if format == FormatXLSX {
		return openXLSX(r)
	}
	return newCSVSource(r), nil
}

// Parse returns a lazy sequence over the data rows of r.
func Parse(r io.Reader, format Format) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		src, h, err := open(r, format)
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer src.close()

		for {
			line, cells, err := src.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					yield(Row{}, err)
					return
				}
				row := Row{Line: pe.StartLine, Err: &RowError{Line: pe.StartLine, Reason: ReasonMalformedRow}}
				if !yield(row, nil) {
					return
				}
				continue
			}
			if !yield(h.row(line, cells), nil) {
				return
			}
		}
	}
}

// Count returns the number of data rows in r, malformed rows included. It is
// the progress denominator and reads the input once.
func Count(r io.Reader, format Format) (int, error) {
	src, _, err := open(r, format)
	if err != nil {
		return 0, err
	}
	defer src.close()

	n := 0
	for {
		_, _, err := src.next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		var pe *csv.ParseError
		if err != nil && !errors.As(err, &pe) {
			return n, err
		}
		n++
	}
}

func open(r io.Reader, format Format) (source, *header, error) {
	src, err := openSource(r, format)
	if err != nil {
		return nil, nil, err
	}

	_, cols, err := src.next()
	if err != nil {
		src.close()
		var pe *csv.ParseError
		switch {
		case errors.Is(err, io.EOF):
			return nil, nil, ErrEmptyInput
		case errors.As(err, &pe):
			return nil, nil, fmt.Errorf("%w: malformed header: %v", ErrUnreadable, err)
		default:
			return nil, nil, err
		}
	}
	return src, newHeader(cols), nil
}

type csvSource struct {
	r *csv.Reader
}

func newCSVSource(r io.Reader) *csvSource {
	cr := csv.NewReader(skipBOM(NewUTF8Validator(r)))
	cr.FieldsPerRecord = -1
	return &csvSource{r: cr}
}

func (s *csvSource) next() (int, []string, error) {
	rec, err := s.r.Read()
	if err != nil {
		return 0, nil, err
	}
	line, _ := s.r.FieldPos(0)
	return line, rec, nil
}

func (s *csvSource) close() error { return nil }

// header maps column positions to record fields. Reserved names match
// case-insensitively; the first column of each reserved name wins.
type header struct {
	names []string
	ids   []int
	name  int
	desc  int
	price int
	attrs []int
}

func newHeader(cols []string) *header {
	h := &header{name: -1, desc: -1, price: -1}
	for i, c := range cols {
		c = CleanCell(c)
		h.names = append(h.names, c)

		switch strings.ToLower(c) {
		case "":
		case "sku":
			h.ids = append(h.ids, i)
		case "name":
			if h.name < 0 {
				h.name = i
			}
		case "description":
			if h.desc < 0 {
				h.desc = i
			}
		case "price":
			if h.price < 0 {
				h.price = i
			}
		default:
			h.attrs = append(h.attrs, i)
		}
	}
	return h
}

func (h *header) row(line int, cells []string) Row {
	cell := func(i int) string {
		if i >= 0 && i < len(cells) {
			return cells[i]
		}
		return ""
	}

	var sku string
	for _, i := range h.ids {
		if sku = CleanCell(cell(i)); sku != "" {
			break
		}
	}
	if sku == "" {
		return h.reject(line, cells, ReasonMissingIdentifier)
	}

	price, err := ParsePrice(cell(h.price))
	if err != nil {
		reason := ReasonInvalidPrice
		if errors.Is(err, ErrPriceOutOfRange) {
			reason = ReasonPriceOutOfRange
		}
		return h.reject(line, cells, reason)
	}

	attrs := make(map[string]string, len(h.attrs))
	for _, i := range h.attrs {
		attrs[h.names[i]] = strings.TrimSpace(cell(i))
	}

	return Row{
		Line: line,
		Record: catalog.Record{
			SKU:         sku,
			Key:         catalog.NormalizeKey(sku),
			Name:        strings.TrimSpace(cell(h.name)),
			Description: strings.TrimSpace(cell(h.desc)),
			Price:       price,
			Active:      true,
			Attributes:  attrs,
		},
	}
}

func (h *header) reject(line int, cells []string, reason string) Row {
	raw := make(map[string]string, len(h.names))
	for i, name := range h.names {
		if name != "" && i < len(cells) {
			raw[name] = cells[i]
		}
	}
	return Row{Line: line, Err: &RowError{Line: line, Reason: reason, Row: raw}}
}
