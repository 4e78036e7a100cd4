package saga

import (
	"context"
	"hash/fnv"
	"sort"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/sagabus/sagabus/eventstream"
	"github.com/sagabus/sagabus/parcel"
)

// DefaultShutdownTimeout is the default time allowed for the final commit
// attempt when a worker is stopped.
const DefaultShutdownTimeout = 5 * time.Second

// CommitRetryPolicy controls the escalating waits between attempts to commit
// a batch of saga state.
//
// The waits are tunable policy, not load-bearing invariants.
type CommitRetryPolicy struct {
	// ShortWait is the wait between the early retry attempts. If it is zero,
	// DefaultCommitRetryPolicy.ShortWait is used.
	ShortWait time.Duration

	// LongWait is the wait between retry attempts once ShortAttempts have
	// been exhausted. If it is zero, DefaultCommitRetryPolicy.LongWait is
	// used.
	//
	// A long wait ends early if new events arrive behind the batch or the
	// worker is stopped.
	LongWait time.Duration

	// ShortAttempts is the number of attempts that use ShortWait before the
	// waits escalate to LongWait. If it is zero,
	// DefaultCommitRetryPolicy.ShortAttempts is used.
	ShortAttempts int
}

// DefaultCommitRetryPolicy is the commit retry policy used by processors that
// do not specify one.
var DefaultCommitRetryPolicy = CommitRetryPolicy{
	ShortWait:     100 * time.Millisecond,
	LongWait:      2 * time.Second,
	ShortAttempts: 4,
}

// An EventProcessor is one worker of the fixed saga processing pool.
//
// Every worker consumes the same shared ordered event stream, but mutates
// only the saga instances it owns. Each worker runs on a single goroutine and
// owns its working set exclusively, so no internal locking is required.
type EventProcessor struct {
	// Stream is the shared ordered event stream.
	Stream eventstream.Stream

	// Definitions is the table of saga types handled by this processor.
	Definitions []*Definition

	// Repository provides access to persisted saga instances.
	Repository Repository

	// UnitOfWorks is used to create the unit of work for each persistence
	// cycle.
	UnitOfWorks UnitOfWorkFactory

	// ErrorHandler decides how to respond to preparation and invocation
	// failures. If it is nil, a RetryErrorHandler is used.
	ErrorHandler ErrorHandler

	// WorkerIndex is the index of this worker within the pool.
	WorkerIndex int

	// WorkerCount is the fixed size of the pool. It must be the same for
	// every worker, for the lifetime of the pool.
	WorkerCount int

	// Offset is the position on the stream at which the worker starts
	// consuming.
	Offset uint64

	// CommitRetry controls the waits between batch commit attempts.
	CommitRetry CommitRetryPolicy

	// ShutdownTimeout is the time allowed for the final commit attempt when
	// the worker is stopped. If it is zero, DefaultShutdownTimeout is used.
	ShutdownTimeout time.Duration

	// Logger is the target for log messages from this worker.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	work    map[string]workItem
	created map[string]struct{}
	unit    UnitOfWork
}

// workItem is one entry in a worker's working set.
type workItem struct {
	sagaType string
	saga     Saga
}

// Owner returns the index of the worker that owns the given saga identifier
// within a pool of the given size.
//
// It is a deterministic, stable function of (id, workers).
func Owner(id string, workers int) int {
	h := fnv.New64a()
	h.Write([]byte(id))

	return int(h.Sum64() % uint64(workers))
}

// NewEventProcessors returns the fixed pool of saga event processors.
//
// Each returned processor is a copy of prototype with its WorkerIndex and
// WorkerCount populated. The pool size must not change for the lifetime of
// the pool, as it determines saga ownership.
func NewEventProcessors(count int, prototype EventProcessor) []*EventProcessor {
	if count <= 0 {
		panic("worker count must be positive")
	}

	procs := make([]*EventProcessor, count)

	for i := range procs {
		p := prototype
		p.WorkerIndex = i
		p.WorkerCount = count
		procs[i] = &p
	}

	return procs
}

// Run consumes events from the stream until ctx is canceled or a fatal error
// occurs.
//
// On cancellation a final best-effort commit of the working set is attempted
// before returning ctx's error.
func (p *EventProcessor) Run(ctx context.Context) error {
	if p.WorkerCount <= 0 {
		panic("worker count must be positive")
	}

	if p.WorkerIndex < 0 || p.WorkerIndex >= p.WorkerCount {
		panic("worker index out of range")
	}

	if p.work == nil {
		p.work = map[string]workItem{}
		p.created = map[string]struct{}{}
	}

	cur, err := p.Stream.Open(ctx, p.Offset)
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		ev, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.shutdown(ctx.Err())
			}

			return err
		}

		if err := p.processEvent(ctx, cur, ev); err != nil {
			if ctx.Err() != nil {
				return p.shutdown(ctx.Err())
			}

			return err
		}

		p.Offset = ev.Offset + 1
	}
}

// processEvent runs one processing cycle for the event in ev, committing the
// working set if ev is the last event currently available on the stream.
func (p *EventProcessor) processEvent(
	ctx context.Context,
	cur eventstream.Cursor,
	ev eventstream.Event,
) error {
	plan := Plan(p.Definitions, ev.Parcel)

	for i := range plan {
		entry := &plan[i]

		found, err := p.prepare(ctx, entry)
		if err != nil {
			return err
		}

		invoked, err := p.invoke(ctx, entry)
		if err != nil {
			return err
		}

		if err := p.createInstance(ctx, entry, found, invoked); err != nil {
			return err
		}
	}

	if !cur.Ready() {
		return p.commit(ctx, cur)
	}

	return nil
}

// prepare resolves the saga identifiers associated with the event and loads
// the owned instances into the working set.
//
// It returns the full set of resolved identifiers, owned or not; the creation
// policy consumes it. On failure the ErrorHandler decides whether preparation
// is restarted from scratch with a fresh unit of work.
func (p *EventProcessor) prepare(
	ctx context.Context,
	ev *ProcessingEvent,
) (map[string]struct{}, error) {
	attempt := 0

	for {
		attempt++

		found, err := p.prepareOnce(ctx, ev)
		if err == nil {
			return found, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		policy := p.errorHandler().OnPreparationError(
			ctx,
			ev.Definition.Name,
			ev.Parcel,
			attempt,
			err,
		)

		if policy.Rollback {
			p.rollback(ctx, err)
		}

		if !policy.Reschedule {
			return found, nil
		}

		if policy.Wait > 0 {
			if err := linger.Sleep(ctx, policy.Wait); err != nil {
				return nil, err
			}
		}
	}
}

// prepareOnce performs a single preparation pass.
func (p *EventProcessor) prepareOnce(
	ctx context.Context,
	ev *ProcessingEvent,
) (map[string]struct{}, error) {
	if err := p.ensureUnit(ctx, nil); err != nil {
		return nil, err
	}

	found := map[string]struct{}{}

	for _, v := range ev.Associations {
		ids, err := p.Repository.Find(ctx, ev.Definition.Name, v)
		if err != nil {
			return found, err
		}

		for _, id := range ids {
			found[id] = struct{}{}
		}
	}

	for _, id := range sortedIDs(found) {
		if !p.owned(id) {
			continue
		}

		if _, ok := p.work[id]; ok {
			continue
		}

		if err := p.ensureUnit(ctx, &ev.Parcel); err != nil {
			return found, err
		}

		s, err := p.Repository.Load(ctx, ev.Definition.Name, id)
		if err != nil {
			return found, err
		}

		p.work[id] = workItem{
			sagaType: ev.Definition.Name,
			saga:     s,
		}
	}

	return found, nil
}

// invoke dispatches the event to each saga in the working set that matches
// its type and shares one of its association values.
//
// It reports whether any saga was invoked; the creation policy consumes this.
func (p *EventProcessor) invoke(
	ctx context.Context,
	ev *ProcessingEvent,
) (bool, error) {
	invoked := false

	for _, id := range workingSetIDs(p.work) {
		item := p.work[id]

		if item.sagaType != ev.Definition.Name {
			continue
		}

		if !item.saga.Active() {
			continue
		}

		if !sharesAssociation(item.saga.AssociationValues(), ev.Associations) {
			continue
		}

		if err := p.invokeOne(ctx, item.saga, ev); err != nil {
			return invoked, err
		}

		invoked = true
	}

	return invoked, nil
}

// invokeOne dispatches the event to a single saga, retrying as directed by
// the ErrorHandler.
func (p *EventProcessor) invokeOne(
	ctx context.Context,
	s Saga,
	ev *ProcessingEvent,
) error {
	attempt := 0

	for {
		attempt++

		err := p.handle(ctx, s, ev)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		policy := p.errorHandler().OnInvocationError(
			ctx,
			s,
			ev.Parcel,
			attempt,
			err,
		)

		if policy.Rollback {
			p.rollback(ctx, err)
		}

		if !policy.Reschedule {
			return nil
		}

		if policy.Wait > 0 {
			if err := linger.Sleep(ctx, policy.Wait); err != nil {
				return err
			}
		}
	}
}

// handle invokes the saga's handler inside an active unit of work.
func (p *EventProcessor) handle(
	ctx context.Context,
	s Saga,
	ev *ProcessingEvent,
) error {
	if err := p.ensureUnit(ctx, &ev.Parcel); err != nil {
		return err
	}

	return s.Handle(ctx, ev.Parcel)
}

// createInstance creates a new saga instance for the event if the matched
// rule's creation policy calls for one.
//
// found is the set of identifiers resolved during preparation; invoked
// reports whether any existing saga handled the event on this worker. Both
// are pure functions of the shared event order, so at most one worker ever
// creates an instance for a given event.
func (p *EventProcessor) createInstance(
	ctx context.Context,
	ev *ProcessingEvent,
	found map[string]struct{},
	invoked bool,
) error {
	if !ev.HasInitial {
		return nil
	}

	switch ev.Creation {
	case CreateAlways:
		if !p.owned(ev.CandidateID) {
			return nil
		}

	case CreateIfNoneFound:
		if len(found) > 0 || invoked || !p.owned(ev.CandidateID) {
			return nil
		}

	default:
		return nil
	}

	s := ev.Definition.Factory(ev.CandidateID)
	s.Associate(ev.InitialAssociation)

	// The creation event is also the new saga's first handled event.
	if err := p.invokeOne(ctx, s, ev); err != nil {
		return err
	}

	p.work[s.ID()] = workItem{
		sagaType: ev.Definition.Name,
		saga:     s,
	}
	p.created[s.ID()] = struct{}{}

	logging.Debug(
		p.Logger,
		"worker %d: created '%s' saga %s from event %s",
		p.WorkerIndex,
		ev.Definition.Name,
		s.ID(),
		ev.Parcel.ID(),
	)

	return nil
}

// commit persists the working set with bounded, escalating retry.
//
// Non-transient failures are propagated immediately. Transient failures are
// retried: the first retry is immediate, the next few wait ShortWait, and
// later retries wait LongWait for as long as this batch remains the most
// recent pending work and the worker is still running.
func (p *EventProcessor) commit(
	ctx context.Context,
	cur eventstream.Cursor,
) error {
	attempts := 0

	for {
		err := p.persist(ctx, attempts == 0)
		if err == nil {
			break
		}

		if IsNonTransient(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempts == 0 {
			logging.Log(
				p.Logger,
				"worker %d: error committing saga state, starting retry procedure: %s",
				p.WorkerIndex,
				err,
			)
		}

		attempts++

		if err := p.waitBeforeRetry(ctx, cur, attempts); err != nil {
			return err
		}
	}

	if attempts != 0 {
		logging.Log(
			p.Logger,
			"worker %d: saga state committed successfully after %d retr%s",
			p.WorkerIndex,
			attempts,
			plural(attempts, "y", "ies"),
		)
	}

	return nil
}

// waitBeforeRetry sleeps between commit attempts.
//
// attempts is the number of failed attempts so far. The first retry is
// immediate; the long wait ends early if events arrive behind the batch or
// the worker is stopped.
func (p *EventProcessor) waitBeforeRetry(
	ctx context.Context,
	cur eventstream.Cursor,
	attempts int,
) error {
	policy := p.commitRetry()

	if attempts == 1 {
		return nil
	}

	if attempts <= policy.ShortAttempts {
		return linger.Sleep(ctx, policy.ShortWait)
	}

	deadline := time.Now().Add(policy.LongWait)

	for time.Now().Before(deadline) && !cur.Ready() {
		if err := linger.Sleep(ctx, policy.ShortWait); err != nil {
			return err
		}
	}

	return nil
}

// persist inserts or updates every saga in the working set and commits the
// unit of work. On success both the working set and the newly-created set are
// cleared.
//
// Transient failures roll back the unit of work and are reported to the
// caller for retry; non-transient failures are returned without a rollback.
func (p *EventProcessor) persist(ctx context.Context, logFailure bool) error {
	if len(p.work) == 0 {
		return nil
	}

	err := func() error {
		if err := p.ensureUnit(ctx, nil); err != nil {
			return err
		}

		for _, id := range workingSetIDs(p.work) {
			item := p.work[id]

			var err error
			if _, ok := p.created[id]; ok {
				err = p.Repository.Add(ctx, p.unit, item.sagaType, item.saga)
			} else {
				err = p.Repository.Save(ctx, p.unit, item.sagaType, item.saga)
			}

			if err != nil {
				return err
			}
		}

		return p.unit.Commit(ctx)
	}()

	if err == nil {
		for id := range p.work {
			delete(p.work, id)
			delete(p.created, id)
		}

		return nil
	}

	if IsNonTransient(err) {
		return err
	}

	if logFailure {
		logging.Log(
			p.Logger,
			"worker %d: unable to persist saga state: %s",
			p.WorkerIndex,
			err,
		)
	}

	p.rollback(ctx, err)

	return err
}

// shutdown performs the final best-effort commit of the working set, bounded
// by the shutdown timeout, then returns cause.
func (p *EventProcessor) shutdown(cause error) error {
	ctx, cancel := linger.ContextWithTimeout(
		context.Background(),
		p.ShutdownTimeout,
		DefaultShutdownTimeout,
	)
	defer cancel()

	if err := p.persist(ctx, false); err != nil {
		logging.Log(
			p.Logger,
			"worker %d: stopped with %d saga instance(s) unpersisted, stored saga state may not reflect their latest activity: %s",
			p.WorkerIndex,
			len(p.work),
			err,
		)
	}

	return cause
}

// owned reports whether this worker owns the saga with the given identifier.
//
// An identifier resident in the working set is always owned (the sticky fast
// path); otherwise ownership is derived from the identifier's hash.
func (p *EventProcessor) owned(id string) bool {
	if _, ok := p.work[id]; ok {
		return true
	}

	return Owner(id, p.WorkerCount) == p.WorkerIndex
}

// ensureUnit guarantees that p.unit is an active unit of work.
func (p *EventProcessor) ensureUnit(ctx context.Context, cause *parcel.Parcel) error {
	if p.unit != nil && p.unit.IsActive() {
		return nil
	}

	unit, err := p.UnitOfWorks.New(ctx, cause)
	if err != nil {
		return err
	}

	p.unit = unit

	return nil
}

// rollback rolls back the active unit of work, if any.
func (p *EventProcessor) rollback(ctx context.Context, cause error) {
	if p.unit == nil || !p.unit.IsActive() {
		return
	}

	if err := p.unit.Rollback(ctx, cause); err != nil {
		logging.Debug(
			p.Logger,
			"worker %d: unable to roll back unit of work: %s",
			p.WorkerIndex,
			err,
		)
	}
}

func (p *EventProcessor) errorHandler() ErrorHandler {
	if p.ErrorHandler != nil {
		return p.ErrorHandler
	}

	return RetryErrorHandler{Logger: p.Logger}
}

func (p *EventProcessor) commitRetry() CommitRetryPolicy {
	policy := p.CommitRetry

	if policy.ShortWait == 0 {
		policy.ShortWait = DefaultCommitRetryPolicy.ShortWait
	}

	if policy.LongWait == 0 {
		policy.LongWait = DefaultCommitRetryPolicy.LongWait
	}

	if policy.ShortAttempts == 0 {
		policy.ShortAttempts = DefaultCommitRetryPolicy.ShortAttempts
	}

	return policy
}

// workingSetIDs returns the identifiers in the working set in a stable order.
func workingSetIDs(work map[string]workItem) []string {
	ids := make([]string, 0, len(work))
	for id := range work {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// sortedIDs returns the identifiers in the given set in a stable order.
func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}

	return plural
}
