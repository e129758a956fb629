package rows

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func collect(t *testing.T, input string, format Format) ([]Row, error) {
	t.Helper()
	var out []Row
	for row, err := range Parse(strings.NewReader(input), format) {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

func TestParse_LastWriterScenario(t *testing.T) {
	input := "sku,price\nA1,10.5\n,5\nA1,20\n"

	got, err := collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Nil(t, got[0].Err)
	require.Equal(t, "a1", got[0].Record.Key)

	require.NotNil(t, got[1].Err)
	require.Equal(t, ReasonMissingIdentifier, got[1].Err.Reason)
	require.Equal(t, 3, got[1].Err.Line)
	require.Equal(t, "5", got[1].Err.Row["price"])

	require.Nil(t, got[2].Err)
	require.Equal(t, 4, got[2].Line)
	price, err := got[2].Record.Price.Float64Value()
	require.NoError(t, err)
	require.Equal(t, 20.0, price.Float64)
}

func TestParse_ColumnMapping(t *testing.T) {
	input := "SKU,Name,Description,Price,Color,Weight\n" +
		"X-1, Lamp ,\"Desk lamp, brass\",\"$1,200.00\",gold,2kg\n"

	got, err := collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0].Record
	require.Equal(t, "X-1", rec.SKU)
	require.Equal(t, "x-1", rec.Key)
	require.Equal(t, "Lamp", rec.Name)
	require.Equal(t, "Desk lamp, brass", rec.Description)
	require.True(t, rec.Active)
	require.Equal(t, map[string]string{"Color": "gold", "Weight": "2kg"}, rec.Attributes)

	price, err := rec.Price.Float64Value()
	require.NoError(t, err)
	require.Equal(t, 1200.0, price.Float64)
}

func TestParse_IdentifierAliases(t *testing.T) {
	tests := []struct {
		name   string
		header string
		row    string
		want   string
	}{
		{"lower", "sku,name", "a,x", "a"},
		{"upper", "SKU,name", "b,x", "b"},
		{"title", "Sku,name", "c,x", "c"},
		{"first non-empty alias wins", "sku,SKU,name", ",d,x", "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collect(t, tt.header+"\n"+tt.row+"\n", FormatCSV)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Nil(t, got[0].Err)
			require.Equal(t, tt.want, got[0].Record.SKU)
		})
	}
}

func TestParse_RowErrors(t *testing.T) {
	input := "name,price\nWidget,1\n"

	got, err := collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ReasonMissingIdentifier, got[0].Err.Reason)

	input = "sku,price\nA,abc\nB,10000000000\nC,\n"
	got, err = collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, ReasonInvalidPrice, got[0].Err.Reason)
	require.Equal(t, ReasonPriceOutOfRange, got[1].Err.Reason)
	require.Nil(t, got[2].Err)
}

func TestParse_MalformedRowContinues(t *testing.T) {
	input := "sku,name\nA,ok\nB,bad\"quote\nC,fine\n"

	got, err := collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Nil(t, got[0].Err)
	require.Equal(t, ReasonMalformedRow, got[1].Err.Reason)
	require.Equal(t, 3, got[1].Line)
	require.Equal(t, "C", got[2].Record.SKU)
}

func TestParse_ShortAndLongRows(t *testing.T) {
	input := "sku,name,price\nA\nB,n,1,extra\n"

	got, err := collect(t, input, FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].Err)
	require.Equal(t, "", got[0].Record.Name)
	require.Nil(t, got[1].Err)
	require.Empty(t, got[1].Record.Attributes)
}

func TestParse_FatalErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyInput},
		{"blank lines only", "\n\n", ErrEmptyInput},
		{"bom only", "\xEF\xBB\xBF", ErrEmptyInput},
		{"invalid utf8", "sku,name\nA1,caf\xe9\n", ErrInvalidEncoding},
		{"malformed header", "sku,\"na\"me\nA,b\n", ErrUnreadable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, tt.input, FormatCSV)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_HeaderOnly(t *testing.T) {
	got, err := collect(t, "sku,name,price\n", FormatCSV)
	require.NoError(t, err)
	require.Empty(t, got)

	n, err := Count(strings.NewReader("sku,name,price\n"), FormatCSV)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestParse_StopsWhenConsumerBreaks(t *testing.T) {
	input := "sku\na\nb\nc\n"
	seen := 0
	for _, err := range Parse(strings.NewReader(input), FormatCSV) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)
}

func TestCount(t *testing.T) {
	input := "sku,price\nA,1\n,2\nB,bad\"q\n\nC,3\n"
	n, err := Count(strings.NewReader(input), FormatCSV)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = Count(strings.NewReader(""), FormatCSV)
	require.True(t, errors.Is(err, ErrEmptyInput))
}

func TestDetectFormat(t *testing.T) {
	require.Equal(t, FormatXLSX, DetectFormat("products.XLSX"))
	require.Equal(t, FormatXLSX, DetectFormat("a.xlsm"))
	require.Equal(t, FormatCSV, DetectFormat("products.csv"))
	require.Equal(t, FormatCSV, DetectFormat("noext"))
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParse_XLSX(t *testing.T) {
	data := workbook(t,
		[]any{"Sku", "Name", "Price", "Brand"},
		[]any{"A1", "Widget", "10.5", "Acme"},
		[]any{"", "", "", ""},
		[]any{"", "Nameless", "5", ""},
		[]any{"a1", "Widget 2", "20", "Acme"},
	)

	var got []Row
	for row, err := range Parse(bytes.NewReader(data), FormatXLSX) {
		require.NoError(t, err)
		got = append(got, row)
	}

	require.Len(t, got, 3)
	require.Equal(t, "Widget", got[0].Record.Name)
	require.Equal(t, "Acme", got[0].Record.Attributes["Brand"])
	require.Equal(t, ReasonMissingIdentifier, got[1].Err.Reason)
	require.Equal(t, 4, got[1].Line)
	require.Equal(t, "a1", got[2].Record.Key)

	n, err := Count(bytes.NewReader(data), FormatXLSX)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestParse_XLSXUnreadable(t *testing.T) {
	_, err := collect(t, "not a zip archive", FormatXLSX)
	require.ErrorIs(t, err, ErrUnreadable)
}
