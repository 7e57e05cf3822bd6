// Package batch writes normalized record streams to bounded-size JSON batch
// files, tracking the identity of every record written. Memory held is one
// record plus the identity set, never the full stream: repository histories
// can run into millions of commits.
package batch

import "context"

// FieldGetter is the narrow capability the writer needs from a record: look
// up a field by name. Every normalized entity implements it, which keeps the
// writer provider-agnostic without open-ended maps.
type FieldGetter interface {
	Field(name string) (any, bool)
}

// Source is a single-pass stream of records. Next returns false once the
// stream is exhausted; an error ends the stream.
type Source interface {
	Next(ctx context.Context) (FieldGetter, bool, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (FieldGetter, bool, error)

// Next calls the underlying function.
func (f SourceFunc) Next(ctx context.Context) (FieldGetter, bool, error) {
	return f(ctx)
}

// FromSlice returns a Source over an in-memory slice.
func FromSlice[T FieldGetter](items []T) Source {
	i := 0
	return SourceFunc(func(_ context.Context) (FieldGetter, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		item := items[i]
		i++
		return item, true, nil
	})
}

// FromChannel returns a Source draining a channel. The stream ends when the
// channel closes or the context is cancelled.
func FromChannel[T FieldGetter](ch <-chan T) Source {
	return SourceFunc(func(ctx context.Context) (FieldGetter, bool, error) {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case item, ok := <-ch:
			if !ok {
				return nil, false, nil
			}
			return item, true, nil
		}
	})
}

// FromBatches flattens a stream of sub-batches (as produced by an upstream
// paginator) into a flat record stream. next returns one sub-batch at a
// time and false when exhausted.
func FromBatches[T FieldGetter](next func(ctx context.Context) ([]T, bool, error)) Source {
	var buf []T
	head := 0
	done := false
	return SourceFunc(func(ctx context.Context) (FieldGetter, bool, error) {
		for head >= len(buf) {
			if done {
				return nil, false, nil
			}
			items, ok, err := next(ctx)
			if err != nil {
				done = true
				return nil, false, err
			}
			if !ok {
				done = true
				return nil, false, nil
			}
			buf = items
			head = 0
		}
		item := buf[head]
		head++
		return item, true, nil
	})
}
