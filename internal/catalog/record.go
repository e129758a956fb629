// Package catalog persists imported product records.
//
// Records are keyed by a case-folded form of their SKU. Writes go through an
// Upserter that buffers records into fixed-size batches and hands each batch
// to a Sink as one idempotent insert-or-update. There is no transaction
// spanning batches: a flushed batch is durable even if the import later fails.
package catalog

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/cases"
)

// Record is one catalog row as produced by the parser.
type Record struct {
	SKU         string
	Key         string
	Name        string
	Description string
	Price       pgtype.Numeric
	Active      bool
	Attributes  map[string]string
}

// NormalizeKey returns the uniqueness key for a SKU: trimmed and Unicode
// case-folded, so "A1", "a1" and " A1 " collide.
func NormalizeKey(sku string) string {
	return cases.Fold().String(strings.TrimSpace(sku))
}
