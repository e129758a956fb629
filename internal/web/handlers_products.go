package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

var errInvalidQuery = errors.New("invalid query parameter")

type productResponse struct {
	ID          int64             `json:"id"`
	SKU         string            `json:"sku"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Price       pgtype.Numeric    `json:"price"`
	Active      bool              `json:"active"`
	Attributes  map[string]string `json:"attributes"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func newProductResponse(r catalog.StoredRecord) productResponse {
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return productResponse{
		ID:          r.ID,
		SKU:         r.SKU,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Active:      r.Active,
		Attributes:  attrs,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type productPage struct {
	Items  []productResponse `json:"items"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// handleListProducts serves GET /api/products, newest first. Query
// parameters: sku, name, description (substring), active, limit, offset.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseProductFilter(q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit, err := intParam(q, "limit", catalog.DefaultPageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if limit == 0 {
		limit = catalog.DefaultPageSize
	}
	limit = min(limit, catalog.MaxPageSize)

	records, total, err := s.deps.Products.List(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page := productPage{Items: make([]productResponse, 0, len(records)), Total: total, Limit: limit, Offset: offset}
	for _, rec := range records {
		page.Items = append(page.Items, newProductResponse(rec))
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetProduct looks a product up by SKU, ignoring case.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if decoded, err := url.PathUnescape(sku); err == nil {
		sku = decoded
	}

	rec, err := s.deps.Products.Get(r.Context(), catalog.NormalizeKey(sku))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(rec))
}

func parseProductFilter(q url.Values) (catalog.Filter, error) {
	f := catalog.Filter{
		SKU:         q.Get("sku"),
		Name:        q.Get("name"),
		Description: q.Get("description"),
	}
	if raw := strings.TrimSpace(q.Get("active")); raw != "" {
		switch strings.ToLower(raw) {
		case "true", "1":
			v := true
			f.Active = &v
		case "false", "0":
			v := false
			f.Active = &v
		default:
			return catalog.Filter{}, fmt.Errorf("%w: active must be true or false", errInvalidQuery)
		}
	}
	return f, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidQuery, name)
	}
	return n, nil
}
