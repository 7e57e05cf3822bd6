// Package paginate turns "fetch page N" into a lazy, single-pass sequence of
// items. A FetchFunc produces one page of items plus the cursor for the next
// page; the Iterator buffers the current page and fetches the next one only
// when drained, so memory stays bounded by one page regardless of how much
// data the server holds.
//
// Iterators are not restartable: a fresh iterator starts at the first page,
// and cancellation is simply to stop calling Next.
package paginate

import (
	"context"
	"fmt"
)

// Cursor identifies the next page of a paginated call: an integer offset, a
// continuation token, or a next-page URL, depending on the provider. The
// zero value is the terminal sentinel meaning no further pages.
type Cursor struct {
	offset   int
	token    string
	url      string
	hasValue bool
}

// First is the cursor for the initial page of any pagination style.
func First() Cursor {
	return Cursor{hasValue: true}
}

// Offset returns a cursor positioned at an integer offset.
func Offset(n int) Cursor {
	return Cursor{offset: n, hasValue: true}
}

// Token returns a cursor holding a continuation token.
func Token(s string) Cursor {
	return Cursor{token: s, hasValue: true}
}

// NextURL returns a cursor holding an explicit next-page URL. An empty URL
// is the terminal cursor, matching the missing-Link-header convention.
func NextURL(u string) Cursor {
	if u == "" {
		return End()
	}
	return Cursor{url: u, hasValue: true}
}

// End returns the terminal cursor.
func End() Cursor {
	return Cursor{}
}

// IsEnd reports whether the cursor is the terminal sentinel.
func (c Cursor) IsEnd() bool {
	return !c.hasValue
}

// OffsetValue returns the integer offset for offset-based pagination.
func (c Cursor) OffsetValue() int {
	return c.offset
}

// TokenValue returns the continuation token for token-based pagination.
func (c Cursor) TokenValue() string {
	return c.token
}

// URLValue returns the next-page URL for link-based pagination.
func (c Cursor) URLValue() string {
	return c.url
}

// FetchFunc fetches the page at the given cursor and returns the page's
// items along with the cursor for the following page (End when exhausted).
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) ([]T, Cursor, error)

// Iterator walks a paginated sequence item by item. Create one with New;
// the zero value is not usable.
type Iterator[T any] struct {
	fetch  FetchFunc[T]
	cursor Cursor
	buf    []T
	head   int
	done   bool
}

// New creates an iterator starting at the given cursor, typically First().
func New[T any](fetch FetchFunc[T], start Cursor) *Iterator[T] {
	return &Iterator[T]{fetch: fetch, cursor: start}
}

// Next returns the next item in server order. The second return is false
// once the sequence is exhausted. Fetch failures end the sequence and are
// returned to the caller.
func (it *Iterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T

	for it.head >= len(it.buf) {
		if it.done || it.cursor.IsEnd() {
			it.done = true
			return zero, false, nil
		}

		items, next, err := it.fetch(ctx, it.cursor)
		if err != nil {
			it.done = true
			return zero, false, fmt.Errorf("fetch page: %w", err)
		}

		// An empty page ends the stream even if the server handed back a
		// live cursor; this guards against malformed responses looping
		// forever.
		if len(items) == 0 {
			it.done = true
			return zero, false, nil
		}

		it.buf = items
		it.head = 0
		it.cursor = next
	}

	item := it.buf[it.head]
	it.head++
	return item, true, nil
}

// Collect drains the iterator into a slice. Intended for small result sets
// and tests; large extractions should stream item by item instead.
func Collect[T any](ctx context.Context, it *Iterator[T]) ([]T, error) {
	var out []T
	for {
		item, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// Each invokes fn for every remaining item, stopping early if fn returns an
// error.
func Each[T any](ctx context.Context, it *Iterator[T], fn func(T) error) error {
	for {
		item, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}
