package sagabus

import (
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/sagabus/sagabus/eventstream"
	"github.com/sagabus/sagabus/saga"
)

var (
	// DefaultWorkerCount is the default size of the saga processing pool.
	//
	// It is overridden by the WithWorkerCount() option.
	DefaultWorkerCount = 1

	// DefaultProcessorBackoff is the default backoff strategy used to delay
	// restarting a failed worker.
	//
	// It is overridden by the WithProcessorBackoff() option.
	DefaultProcessorBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Hour),
	)

	// DefaultShutdownTimeout is the default time allowed for each worker's
	// final commit attempt when the engine is stopped.
	//
	// It is overridden by the WithShutdownTimeout() option.
	DefaultShutdownTimeout = saga.DefaultShutdownTimeout

	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithWorkerCount returns an engine option that sets the size of the saga
// processing pool.
//
// The pool size determines saga ownership. Changing it across restarts is
// safe but reshuffles which worker owns which instance.
//
// If this option is omitted or n is non-positive, DefaultWorkerCount is used.
func WithWorkerCount(n int) EngineOption {
	return func(opts *engineOptions) {
		opts.WorkerCount = n
	}
}

// WithDefinitions returns an engine option that adds saga definitions to the
// engine.
//
// There must always be at least one definition.
func WithDefinitions(defs ...*saga.Definition) EngineOption {
	return func(opts *engineOptions) {
		opts.Definitions = append(opts.Definitions, defs...)
	}
}

// WithStream returns an engine option that sets the ordered event stream
// consumed by the saga processing pool.
//
// This option is required.
func WithStream(s eventstream.Stream) EngineOption {
	return func(opts *engineOptions) {
		opts.Stream = s
	}
}

// WithRepository returns an engine option that sets the repository used to
// store and retrieve saga instances.
//
// This option is required.
func WithRepository(r saga.Repository) EngineOption {
	return func(opts *engineOptions) {
		opts.Repository = r
	}
}

// WithUnitOfWorkFactory returns an engine option that sets the factory used
// to create the unit of work for each persistence cycle.
//
// This option is required.
func WithUnitOfWorkFactory(f saga.UnitOfWorkFactory) EngineOption {
	return func(opts *engineOptions) {
		opts.UnitOfWorks = f
	}
}

// WithErrorHandler returns an engine option that sets the handler consulted
// after preparation and invocation failures.
//
// If this option is omitted or h is nil, a saga.RetryErrorHandler is used.
func WithErrorHandler(h saga.ErrorHandler) EngineOption {
	return func(opts *engineOptions) {
		opts.ErrorHandler = h
	}
}

// WithCommitRetryPolicy returns an engine option that sets the policy for
// retrying batch commits of saga state.
//
// Zero fields of the policy fall back to saga.DefaultCommitRetryPolicy.
func WithCommitRetryPolicy(p saga.CommitRetryPolicy) EngineOption {
	return func(opts *engineOptions) {
		opts.CommitRetry = p
	}
}

// WithProcessorBackoff returns an engine option that sets the backoff
// strategy used to delay restarting a failed worker.
//
// If this option is omitted or s is nil DefaultProcessorBackoff is used.
func WithProcessorBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.ProcessorBackoff = s
	}
}

// WithShutdownTimeout returns an engine option that sets the time allowed
// for each worker's final commit attempt when the engine is stopped.
//
// If this option is omitted or d is zero DefaultShutdownTimeout is used.
func WithShutdownTimeout(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.ShutdownTimeout = d
	}
}

// WithStartOffset returns an engine option that sets the position on the
// stream at which the workers start consuming.
func WithStartOffset(o uint64) EngineOption {
	return func(opts *engineOptions) {
		opts.StartOffset = o
	}
}

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	WorkerCount      int
	Definitions      []*saga.Definition
	Stream           eventstream.Stream
	Repository       saga.Repository
	UnitOfWorks      saga.UnitOfWorkFactory
	ErrorHandler     saga.ErrorHandler
	CommitRetry      saga.CommitRetryPolicy
	ProcessorBackoff backoff.Strategy
	ShutdownTimeout  time.Duration
	StartOffset      uint64
	Logger           logging.Logger
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if len(opts.Definitions) == 0 {
		panic("no saga definitions configured, see sagabus.WithDefinitions()")
	}

	if opts.Stream == nil {
		panic("no event stream configured, see sagabus.WithStream()")
	}

	if opts.Repository == nil {
		panic("no repository configured, see sagabus.WithRepository()")
	}

	if opts.UnitOfWorks == nil {
		panic("no unit-of-work factory configured, see sagabus.WithUnitOfWorkFactory()")
	}

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultWorkerCount
	}

	if opts.ProcessorBackoff == nil {
		opts.ProcessorBackoff = DefaultProcessorBackoff
	}

	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}
