package pricesapi

import (
	"context"
	"errors"
)

const (
	// DefaultPageSize bounds the payload of a single list call.
	DefaultPageSize = 200
	// MaxPages stops a listing whose pages never come back empty.
	MaxPages = 500
)

var ErrPageLimit = errors.New("pricesapi: page limit reached")

// FetchAll requests pages in order, starting at 1, until one comes back
// empty. When a page fails, the records gathered so far are returned together
// with a *PageError. Pagination also stops with ErrPageLimit after MaxPages.
func FetchAll[T any](ctx context.Context, pageSize int, fetch func(ctx context.Context, page, limit int) ([]T, error)) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var out []T
	for page := 1; ; page++ {
		if page > MaxPages {
			return out, &PageError{Page: page, Err: ErrPageLimit}
		}
		items, err := fetch(ctx, page, pageSize)
		if err != nil {
			return out, &PageError{Page: page, Err: err}
		}
		if len(items) == 0 {
			return out, nil
		}
		out = append(out, items...)
	}
}
