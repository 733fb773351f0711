// Package pagination reads page, limit and sort parameters from a query
// string and applies them to an in-memory list.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

// Params holds the paging request after defaults and limits are applied.
type Params struct {
	Page   int    // 1-based page number
	Limit  int    // items per page
	Offset int    // items skipped before this page
	Sort   string // "newest" or "oldest"
}

const (
	MaxLimit     = 100
	MaxPage      = math.MaxInt32 / MaxLimit
	DefaultPage  = 1
	DefaultLimit = 20
	SortNewest   = "newest"
	SortOldest   = "oldest"
	DefaultSort  = SortNewest
)

// Option adjusts the defaults before the query is read.
type Option func(*Params)

func WithDefaultLimit(limit int) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

func WithDefaultSort(sort string) Option {
	return func(p *Params) {
		if isValidSort(sort) {
			p.Sort = sort
		}
	}
}

// FromQuery reads page, limit and sort from q. Invalid values are ignored,
// page is capped at MaxPage and limit at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{Page: DefaultPage, Limit: DefaultLimit, Sort: DefaultSort}
	for _, opt := range opts {
		opt(&params)
	}
	if val, err := strconv.Atoi(q.Get("page")); err == nil && val > 0 {
		params.Page = min(val, MaxPage)
	}
	if val, err := strconv.Atoi(q.Get("limit")); err == nil && val > 0 {
		params.Limit = val
	}
	params.Limit = min(params.Limit, MaxLimit)
	if sort := q.Get("sort"); isValidSort(sort) {
		params.Sort = sort
	}
	params.Offset = (params.Page - 1) * params.Limit
	return params
}

func isValidSort(sort string) bool {
	return sort == SortNewest || sort == SortOldest
}

// Page is one slice of a list together with what a client needs to ask
// for the next one.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

// Slice returns the page of items selected by p. items must already be in
// the order p.Sort asks for.
func Slice[T any](items []T, p Params) Page[T] {
	total := len(items)
	start := min(max(p.Offset, 0), total)
	end := min(start+p.Limit, total)
	page := make([]T, end-start)
	copy(page, items[start:end])
	return Page[T]{
		Items:   page,
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   total,
		HasNext: HasNext(p.Offset, p.Limit, total),
	}
}

// HasNext reports whether items remain after offset+limit.
func HasNext(offset, limit, count int) bool {
	return max(offset, 0)+limit < count
}
