package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Get when no record has the key.
var ErrNotFound = errors.New("catalog: record not found")

var stageColumns = []string{"sku", "sku_lower", "name", "description", "price", "active", "attributes"}

const createStage = `
CREATE TEMP TABLE product_stage (
    sku         TEXT,
    sku_lower   TEXT,
    name        TEXT,
    description TEXT,
    price       NUMERIC,
    active      BOOLEAN,
    attributes  JSONB
) ON COMMIT DROP`

// Rows are applied in key order so concurrent imports touching the same
// keys lock them in the same order.
const mergeStage = `
INSERT INTO products (sku, sku_lower, name, description, price, active, attributes)
SELECT sku, sku_lower, name, description, price, active, attributes
FROM product_stage
ORDER BY sku_lower
ON CONFLICT (sku_lower) DO UPDATE SET
    sku         = EXCLUDED.sku,
    name        = EXCLUDED.name,
    description = EXCLUDED.description,
    price       = EXCLUDED.price,
    active      = EXCLUDED.active,
    attributes  = EXCLUDED.attributes,
    updated_at  = now()`

// PGStore is the PostgreSQL Sink for catalog records.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a shared pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// UpsertBatch copies records into a transaction-scoped stage table and merges
// them into products in a single statement. created_at is left untouched on
// conflict.
func (s *PGStore) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, createStage); err != nil {
		return fmt.Errorf("create stage table: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"product_stage"}, stageColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			attrs, err := encodeAttributes(r.Attributes)
			if err != nil {
				return nil, fmt.Errorf("sku %q: %w", r.SKU, err)
			}
			return []any{r.SKU, r.Key, r.Name, r.Description, r.Price, r.Active, attrs}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy to stage: %w", err)
	}

	if _, err := tx.Exec(ctx, mergeStage); err != nil {
		return fmt.Errorf("merge stage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// StoredRecord is a persisted record with its id and timestamps.
type StoredRecord struct {
	Record
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

const productColumns = `id, sku, sku_lower, name, description, price, active, attributes, created_at, updated_at`

func scanRecord(row pgx.Row, extra ...any) (StoredRecord, error) {
	var (
		rec   StoredRecord
		attrs []byte
	)
	dest := append([]any{&rec.ID, &rec.SKU, &rec.Key, &rec.Name, &rec.Description, &rec.Price,
		&rec.Active, &attrs, &rec.CreatedAt, &rec.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return StoredRecord{}, err
	}
	if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
		return StoredRecord{}, fmt.Errorf("decode attributes for %q: %w", rec.SKU, err)
	}
	return rec, nil
}

// Get loads one record by normalized key.
func (s *PGStore) Get(ctx context.Context, key string) (StoredRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku_lower = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return StoredRecord{}, fmt.Errorf("get product %q: %w", key, err)
	}
	return rec, nil
}

// Filter narrows List. Text fields match case-insensitive substrings; a nil
// Active matches both states.
type Filter struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
}

// Default and maximum page sizes for List.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// List returns one page of records, newest first, and the number of records
// matching f across all pages.
func (s *PGStore) List(ctx context.Context, f Filter, limit, offset int) ([]StoredRecord, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset = max(offset, 0)

	where, args := f.where()
	args = append(args, limit, offset)
	query := `SELECT ` + productColumns + `, count(*) OVER () FROM products` + where +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var (
		out   = []StoredRecord{}
		total int64
	)
	for rows.Next() {
		rec, err := scanRecord(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("list products: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}

	// An offset past the end returns no rows and so no window count.
	if len(out) == 0 && offset > 0 {
		if total, err = s.count(ctx, f); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *PGStore) count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	like := func(column, value string) {
		if value = strings.TrimSpace(value); value == "" {
			return
		}
		args = append(args, "%"+escapeLike(value)+"%")
		conds = append(conds, column+` ILIKE $`+strconv.Itoa(len(args)))
	}
	like("sku", f.SKU)
	like("name", f.Name)
	like("description", f.Description)
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, `active = $`+strconv.Itoa(len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Count returns the number of stored records.
func (s *PGStore) Count(ctx context.Context) (int64, error) {
	return s.count(ctx, Filter{})
}

func encodeAttributes(attrs map[string]string) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(attrs)
}
