// Package paging holds the page request and the result envelope shared by
// every listing endpoint.
package paging

import (
	"net/url"
	"strconv"

	"booknet/internal/apperr"
)

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Request is a zero-based page index and a page size.
type Request struct {
	Number int
	Size   int
}

// Offset is the number of rows to skip.
func (r Request) Offset() int {
	return r.Number * r.Size
}

// Validate rejects negative pages and sizes outside [1, MaxSize].
func (r Request) Validate() error {
	if r.Number < 0 {
		return apperr.Invalid("page must not be negative, got %d", r.Number)
	}
	if r.Size < 1 || r.Size > MaxSize {
		return apperr.Invalid("size must be between 1 and %d, got %d", MaxSize, r.Size)
	}
	return nil
}

// FromQuery reads "page" and "size" from query values, falling back to
// page 0 and DefaultSize.
func FromQuery(q url.Values) (Request, error) {
	req := Request{Number: 0, Size: DefaultSize}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, apperr.Invalid("page must be an integer")
		}
		req.Number = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, apperr.Invalid("size must be an integer")
		}
		req.Size = n
	}
	return req, req.Validate()
}

// Response is the envelope returned by listings.
type Response[T any] struct {
	Content       []T   `json:"content"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}

// New builds the envelope for one page of items out of total matches.
func New[T any](items []T, req Request, total int64) Response[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Response[T]{
		Content:       items,
		Number:        req.Number,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
		First:         req.Number == 0,
		Last:          req.Number+1 >= pages,
	}
}

// Map converts the content of a page, keeping its metadata.
func Map[T, U any](p Response[T], fn func(T) U) Response[U] {
	out := make([]U, 0, len(p.Content))
	for _, item := range p.Content {
		out = append(out, fn(item))
	}
	return Response[U]{
		Content:       out,
		Number:        p.Number,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		First:         p.First,
		Last:          p.Last,
	}
}
