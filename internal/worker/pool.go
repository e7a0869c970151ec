package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/engine"
)

// Pool is an in-process Dispatcher: dispatches run on background
// goroutines inside the same process, feeding outcomes straight back
// into the engine. Used by the CLI when no broker is configured.
type Pool struct {
	worker *Worker
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a Pool running at most maxInFlight dispatches at once.
// The pool's lifetime is detached from individual request contexts;
// Shutdown drains it.
func NewPool(w *Worker, maxInFlight int) *Pool {
	if maxInFlight <= 0 {
		maxInFlight = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	return &Pool{worker: w, group: g, ctx: gctx, cancel: cancel}
}

// Dispatch schedules the work and returns immediately. Run errors are
// reported through the sink and logged, not returned here.
func (p *Pool) Dispatch(ctx context.Context, d engine.Dispatch) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	p.group.Go(func() error {
		if err := p.worker.Run(p.ctx, d); err != nil {
			zap.L().Error("dispatch run failed",
				zap.String("dispatch_id", d.ID),
				zap.String("job_id", d.JobID),
				zap.Error(err))
		}
		return nil
	})
	return nil
}

// Shutdown stops accepting work and waits for in-flight dispatches.
func (p *Pool) Shutdown() {
	p.cancel()
	_ = p.group.Wait()
}

// Drain waits for in-flight dispatches without cancelling them.
func (p *Pool) Drain() {
	_ = p.group.Wait()
}
