package stream

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSliceCollect(t *testing.T) {
	ctx := context.Background()
	got, err := Collect(ctx, FromSlice([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestStreamIsLazy(t *testing.T) {
	ctx := context.Background()
	pulls := 0
	s := New(func(context.Context) (int, bool, error) {
		pulls++
		return pulls, true, nil
	})

	// Wrapping in Map must not trigger any work.
	m := Map(s, func(_ context.Context, v int) (string, error) {
		return strconv.Itoa(v), nil
	})
	assert.Equal(t, 0, pulls)

	v, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, pulls)
}

func TestStreamTerminalStateIsSticky(t *testing.T) {
	ctx := context.Background()
	s := FromSlice([]int{1})

	_, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		_, ok, err = s.Next(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestStreamErrorIsSticky(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	calls := 0
	s := New(func(context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})

	_, _, err := s.Next(ctx)
	assert.ErrorIs(t, err, boom)
	_, _, err = s.Next(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "a terminated stream must not pull again")
}

func TestStreamContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := FromSlice([]int{1, 2})
	_, ok, err := s.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	even := Filter(FromSlice([]int{1, 2, 3, 4, 5}), func(v int) bool { return v%2 == 0 })

	got, err := Collect(ctx, even)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, got)
}

func TestBatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		in   []int
		size int
		want [][]int
	}{
		{"exact", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"trailing partial", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"unbounded", []int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
		{"empty", nil, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(ctx, Batch(FromSlice(tt.in), tt.size))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapPropagatesError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	m := Map(FromSlice([]int{1, 2}), func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})

	got, err := Collect(ctx, m)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)
}

func TestOnTerminateRunsOnceOnExhaustion(t *testing.T) {
	ctx := context.Background()
	closed := 0
	s := FromSlice([]int{1}).OnTerminate(func() { closed++ })

	_, err := Collect(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	// Further pulls must not re-run the hook.
	s.Next(ctx)
	s.Close()
	assert.Equal(t, 1, closed)
}

func TestOnTerminateRunsOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	closed := 0
	s := Fail[int](boom).OnTerminate(func() { closed++ })

	_, _, err := s.Next(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, closed)
}

func TestOnTerminateRunsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	closed := 0
	s := FromSlice([]int{1, 2, 3}).OnTerminate(func() { closed++ })

	_, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, closed)

	cancel()
	_, _, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, closed)
}

func TestOnTerminatePropagatesThroughCombinators(t *testing.T) {
	// Canceling a consumer of the derived stream must release the source,
	// even though the source never observes a terminal pull itself.
	ctx, cancel := context.WithCancel(context.Background())
	closed := 0
	src := FromSlice([]int{1, 2, 3, 4}).OnTerminate(func() { closed++ })

	b := Batch(Filter(Map(src, func(_ context.Context, v int) (int, error) {
		return v * 10, nil
	}), func(v int) bool { return v > 0 }), 2)

	_, ok, err := b.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, closed)

	cancel()
	_, _, err = b.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, closed)
}

func TestCloseTerminatesEarly(t *testing.T) {
	ctx := context.Background()
	closed := 0
	s := FromSlice([]int{1, 2, 3}).OnTerminate(func() { closed++ })

	_, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	s.Close()
	assert.Equal(t, 1, closed)

	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
