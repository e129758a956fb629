package rows

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

var (
	// ErrInvalidPrice reports a price cell that is not a number.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrPriceOutOfRange reports a price that does not fit numeric(12,2).
	ErrPriceOutOfRange = errors.New("price out of range")
)

// maxPriceDigits is the integer-part width of a numeric(12,2) column.
const maxPriceDigits = 10

// numericRegex validates a cleaned price. Exponents are capped at two digits.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d{1,2})?$`)

// ParsePrice converts a user-supplied price cell to a two-decimal numeric.
// It strips currency symbols and thousands separators and reads accounting
// negatives like "(12.50)". An empty cell is a zero price.
func ParsePrice(s string) (pgtype.Numeric, error) {
	s = CleanCell(s)
	if s == "" {
		return pgtype.Numeric{Int: big.NewInt(0), Valid: true}, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{}, ErrInvalidPrice
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return pgtype.Numeric{}, ErrInvalidPrice
	}

	// FloatString rounds half away from zero, as PostgreSQL does for numeric.
	rounded := r.FloatString(2)
	intPart := strings.TrimPrefix(rounded, "-")
	if i := strings.IndexByte(intPart, '.'); i >= 0 {
		intPart = intPart[:i]
	}
	if len(strings.TrimLeft(intPart, "0")) > maxPriceDigits {
		return pgtype.Numeric{}, ErrPriceOutOfRange
	}

	var n pgtype.Numeric
	if err := n.Scan(rounded); err != nil {
		return pgtype.Numeric{}, ErrInvalidPrice
	}
	return n, nil
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, an Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
