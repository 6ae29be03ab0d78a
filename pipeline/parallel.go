package pipeline

import (
	"context"
	"time"

	"github.com/BaSui01/pollenflow/internal/pool"
)

// batchRunner fans batch work out to a bounded worker pool so that a run
// classifies and exports several batches at once without unbounded
// goroutine growth. Submission blocks when every worker is busy, which
// keeps extraction from racing ahead of the slower stages.
type batchRunner struct {
	pool *pool.GoroutinePool
}

func newBatchRunner(workers int) *batchRunner {
	return &batchRunner{
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  workers,
			QueueSize:   workers,
			IdleTimeout: time.Minute,
		}),
	}
}

// submit runs the task on the pool and returns its error.
func (b *batchRunner) submit(ctx context.Context, task pool.Task) error {
	return b.pool.SubmitWait(ctx, task)
}

func (b *batchRunner) close() {
	b.pool.Close()
}
