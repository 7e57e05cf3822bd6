package paginate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedFetch serves canned pages in order, tracking how many fetches happen.
func pagedFetch(pages [][]string) (FetchFunc[string], *int) {
	fetches := new(int)
	fetch := func(_ context.Context, cursor Cursor) ([]string, Cursor, error) {
		*fetches++
		idx := cursor.OffsetValue()
		if idx >= len(pages) {
			return nil, End(), nil
		}
		next := Offset(idx + 1)
		if idx == len(pages)-1 {
			next = End()
		}
		return pages[idx], next, nil
	}
	return fetch, fetches
}

func TestIterator_Next(t *testing.T) {
	ctx := context.Background()

	t.Run("yields items across pages in server order", func(t *testing.T) {
		fetch, _ := pagedFetch([][]string{{"item1", "item2"}, {"item3"}})
		it := New(fetch, First())

		got, err := Collect(ctx, it)

		require.NoError(t, err)
		assert.Equal(t, []string{"item1", "item2", "item3"}, got)
	})

	t.Run("terminates after the terminal cursor", func(t *testing.T) {
		fetch, fetches := pagedFetch([][]string{{"a"}})
		it := New(fetch, First())

		_, err := Collect(ctx, it)
		require.NoError(t, err)

		// Further calls stay exhausted without refetching.
		_, ok, err := it.Next(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, *fetches)
	})

	t.Run("empty page ends the stream even with a live cursor", func(t *testing.T) {
		fetch := func(_ context.Context, cursor Cursor) ([]string, Cursor, error) {
			// Malformed server: always claims another page exists.
			return nil, Offset(cursor.OffsetValue() + 1), nil
		}
		it := New(fetch, First())

		got, err := Collect(ctx, it)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("lazy fetching: pages load only when the buffer drains", func(t *testing.T) {
		fetch, fetches := pagedFetch([][]string{{"a", "b"}, {"c"}})
		it := New(fetch, First())

		_, _, _ = it.Next(ctx)
		assert.Equal(t, 1, *fetches)
		_, _, _ = it.Next(ctx)
		assert.Equal(t, 1, *fetches)
		_, _, _ = it.Next(ctx)
		assert.Equal(t, 2, *fetches)
	})

	t.Run("fetch error ends the sequence and surfaces", func(t *testing.T) {
		sentinel := errors.New("server on fire")
		fetch := func(_ context.Context, _ Cursor) ([]string, Cursor, error) {
			return nil, End(), sentinel
		}
		it := New(fetch, First())

		_, ok, err := it.Next(ctx)

		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel)
		assert.False(t, ok)

		// The iterator stays dead afterwards.
		_, ok, err = it.Next(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("starting at the terminal cursor yields nothing", func(t *testing.T) {
		fetch, fetches := pagedFetch([][]string{{"a"}})
		it := New(fetch, End())

		got, err := Collect(ctx, it)

		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 0, *fetches)
	})
}

func TestEach(t *testing.T) {
	ctx := context.Background()

	t.Run("visits every item", func(t *testing.T) {
		fetch, _ := pagedFetch([][]string{{"a", "b"}, {"c"}})
		it := New(fetch, First())

		var seen []string
		err := Each(ctx, it, func(s string) error {
			seen = append(seen, s)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, seen)
	})

	t.Run("stops early on callback error", func(t *testing.T) {
		fetch, fetches := pagedFetch([][]string{{"a", "b"}, {"c"}})
		it := New(fetch, First())
		stop := errors.New("enough")

		err := Each(ctx, it, func(s string) error {
			if s == "b" {
				return stop
			}
			return nil
		})

		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, *fetches)
	})
}

func TestCursor(t *testing.T) {
	t.Run("zero value is terminal", func(t *testing.T) {
		var c Cursor
		assert.True(t, c.IsEnd())
		assert.True(t, End().IsEnd())
	})

	t.Run("constructors carry their values", func(t *testing.T) {
		assert.Equal(t, 42, Offset(42).OffsetValue())
		assert.Equal(t, "abc", Token("abc").TokenValue())
		assert.Equal(t, "https://x/next", NextURL("https://x/next").URLValue())
		assert.False(t, First().IsEnd())
	})

	t.Run("empty next URL is terminal", func(t *testing.T) {
		assert.True(t, NextURL("").IsEnd())
	})
}
