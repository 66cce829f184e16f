package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Params holds offset/limit pagination extracted from query strings.
type Params struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// DefaultParams returns the first page with the default limit.
func DefaultParams() Params {
	return Params{Offset: 0, Limit: DefaultLimit}
}

// FromRequest reads `offset` (alias `skip`) and `limit` from the query string.
// Negative or unparsable values fall back to defaults; limit is capped at MaxLimit.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()
	q := r.URL.Query()

	offset := q.Get("offset")
	if offset == "" {
		offset = q.Get("skip")
	}
	if v, err := strconv.Atoi(offset); err == nil && v >= 0 {
		p.Offset = v
	}

	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = min(v, MaxLimit)
	}

	return p
}

// Page is a list response for offset/limit queries. No total count is reported.
type Page[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
}

// NewPage wraps items with the parameters that produced them.
func NewPage[T any](items []T, params Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:  items,
		Offset: params.Offset,
		Limit:  params.Limit,
		Count:  len(items),
	}
}
