// Package sagabus hosts a pool of saga event processors over a shared ordered
// event stream.
//
// Every worker in the pool consumes the same stream, but each saga instance
// is owned by exactly one worker, derived from a hash of its identifier. A
// worker only loads, invokes and persists the instances it owns, so saga
// state never needs cross-worker locking.
package sagabus

import (
	"context"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/sagabus/sagabus/saga"
	"golang.org/x/sync/errgroup"
)

// Engine hosts the saga processing pool.
type Engine struct {
	opts       *engineOptions
	processors []*saga.EventProcessor
}

// New returns a new engine configured by the given options.
func New(options ...EngineOption) *Engine {
	opts := resolveEngineOptions(options...)

	return &Engine{
		opts: opts,
		processors: saga.NewEventProcessors(
			opts.WorkerCount,
			saga.EventProcessor{
				Stream:          opts.Stream,
				Definitions:     opts.Definitions,
				Repository:      opts.Repository,
				UnitOfWorks:     opts.UnitOfWorks,
				ErrorHandler:    opts.ErrorHandler,
				Offset:          opts.StartOffset,
				CommitRetry:     opts.CommitRetry,
				ShutdownTimeout: opts.ShutdownTimeout,
				Logger:          opts.Logger,
			},
		),
	}
}

// Run processes events until ctx is canceled or a worker fails with a
// non-transient error.
//
// Workers that fail with other errors are restarted after a backoff.
func (e *Engine) Run(ctx context.Context) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range e.processors {
		p := p // capture loop variable

		g.Go(func() error {
			return e.runProcessor(ctx, p)
		})
	}

	err := g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// runProcessor runs a single worker, restarting it after failures.
func (e *Engine) runProcessor(
	ctx context.Context,
	p *saga.EventProcessor,
) error {
	ctr := &backoff.Counter{
		Strategy: e.opts.ProcessorBackoff,
	}

	for {
		err := p.Run(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if saga.IsNonTransient(err) {
			return err
		}

		logging.Log(
			e.opts.Logger,
			"worker %d: restarting after failure: %s",
			p.WorkerIndex,
			err,
		)

		if err := ctr.Sleep(ctx, err); err != nil {
			return err
		}
	}
}
