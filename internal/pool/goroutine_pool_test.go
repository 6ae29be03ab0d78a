package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	ran := false
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestGoroutinePool_TaskError(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	boom := errors.New("boom")
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_BoundsConcurrency(t *testing.T) {
	cfg := DefaultGoroutinePoolConfig()
	cfg.MaxWorkers = 2
	p := NewGoroutinePool(cfg)
	defer p.Close()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.SubmitWait(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(8), p.Stats().Completed)
}

func TestGoroutinePool_RecoversPanic(t *testing.T) {
	var caught any
	cfg := DefaultGoroutinePoolConfig()
	cfg.PanicHandler = func(r any) { caught = r }
	p := NewGoroutinePool(cfg)
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Equal(t, "kaboom", caught)
}

func TestGoroutinePool_ClosedRejectsWork(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
