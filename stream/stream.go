// Package stream provides the pull-based lazy sequence connecting pipeline
// stages. No element is computed before a consumer pulls it, which is the
// framework's backpressure mechanism: an unconsumed stage performs no work
// and holds no unbounded buffer.
//
// A Stream is single-use. It can be restarted only by rebuilding it from
// its source, not mid-stream.
package stream

import "context"

// NextFunc produces the next element. ok=false signals exhaustion; a
// non-nil error terminates the stream.
type NextFunc[T any] func(ctx context.Context) (T, bool, error)

// Stream is a lazy sequence of T.
type Stream[T any] struct {
	next    NextFunc[T]
	done    bool
	err     error
	cleanup []func()
}

// New wraps a NextFunc into a Stream.
func New[T any](next NextFunc[T]) *Stream[T] {
	return &Stream[T]{next: next}
}

// OnTerminate registers fn to run once when the stream terminates, on any
// path: exhaustion, terminal error, context cancellation, or an explicit
// Close. Streams holding external resources register their release here so
// an abandoned or canceled consumer cannot leak them. Derived streams
// (Map, Filter, Batch) propagate termination to their source.
func (s *Stream[T]) OnTerminate(fn func()) *Stream[T] {
	s.cleanup = append(s.cleanup, fn)
	return s
}

// Close terminates the stream early and runs its termination hooks.
// Subsequent pulls report exhaustion. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.done = true
	s.finish()
}

func (s *Stream[T]) finish() {
	for _, fn := range s.cleanup {
		fn()
	}
	s.cleanup = nil
}

// Next pulls the next element. After the first ok=false or error, the
// stream stays terminated and repeats the same outcome.
func (s *Stream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if s.done {
		return zero, false, s.err
	}
	if err := ctx.Err(); err != nil {
		s.done = true
		s.err = err
		s.finish()
		return zero, false, err
	}

	v, ok, err := s.next(ctx)
	if err != nil {
		s.done = true
		s.err = err
		s.finish()
		return zero, false, err
	}
	if !ok {
		s.done = true
		s.finish()
		return zero, false, nil
	}
	return v, true, nil
}

// Empty returns a stream with no elements.
func Empty[T any]() *Stream[T] {
	return New(func(context.Context) (T, bool, error) {
		var zero T
		return zero, false, nil
	})
}

// Fail returns a stream whose first pull reports err.
func Fail[T any](err error) *Stream[T] {
	return New(func(context.Context) (T, bool, error) {
		var zero T
		return zero, false, err
	})
}

// FromSlice returns a stream over the elements of s.
func FromSlice[T any](s []T) *Stream[T] {
	i := 0
	return New(func(context.Context) (T, bool, error) {
		if i >= len(s) {
			var zero T
			return zero, false, nil
		}
		v := s[i]
		i++
		return v, true, nil
	})
}

// Map returns a stream applying fn to each element of s as it is pulled.
func Map[T, U any](s *Stream[T], fn func(ctx context.Context, v T) (U, error)) *Stream[U] {
	return New(func(ctx context.Context) (U, bool, error) {
		var zero U
		v, ok, err := s.Next(ctx)
		if err != nil || !ok {
			return zero, false, err
		}
		u, err := fn(ctx, v)
		if err != nil {
			return zero, false, err
		}
		return u, true, nil
	}).OnTerminate(s.Close)
}

// Filter returns a stream dropping elements for which keep returns false.
func Filter[T any](s *Stream[T], keep func(v T) bool) *Stream[T] {
	return New(func(ctx context.Context) (T, bool, error) {
		for {
			v, ok, err := s.Next(ctx)
			if err != nil || !ok {
				var zero T
				return zero, false, err
			}
			if keep(v) {
				return v, true, nil
			}
		}
	}).OnTerminate(s.Close)
}

// Batch returns a stream of chunks of up to size elements. size < 1 yields
// one chunk holding the entire input. A trailing partial chunk is emitted.
func Batch[T any](s *Stream[T], size int) *Stream[[]T] {
	return New(func(ctx context.Context) ([]T, bool, error) {
		var chunk []T
		for size < 1 || len(chunk) < size {
			v, ok, err := s.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				break
			}
			chunk = append(chunk, v)
		}
		if len(chunk) == 0 {
			return nil, false, nil
		}
		return chunk, true, nil
	}).OnTerminate(s.Close)
}

// Collect drains the stream into a slice.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var out []T
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
