// Package workpackage implements the per-segment consumer: it batches
// scheduled events, invokes the configured handler under a transaction,
// and persists the resulting token. One WorkPackage exists per claimed
// segment, running on the caller-supplied worker executor.
package workpackage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/tokenstore"
)

// TransactionManager executes fn within an application-defined
// transaction boundary, committing on a nil return and rolling back
// otherwise. Transaction manager implementations are an external
// collaborator; this module only depends on the interface.
type TransactionManager interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTransactionManager runs fn directly with no transactional
// semantics, for handlers that manage their own durability.
type NoopTransactionManager struct{}

func (NoopTransactionManager) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Instrumentation receives batch-level observability events. A nil
// Instrumentation is always safe; every call site nil-checks first.
type Instrumentation interface {
	ObserveBatch(segment psep.Segment, eventsHandled int, duration time.Duration)
	ObserveAbort(segment psep.Segment, reason string)
}

// Config configures a single WorkPackage.
type Config struct {
	ProcessorName string
	OwnerID       string
	Segment       psep.Segment

	// InitialToken is the token fetched (and claimed) by the Coordinator
	// before constructing this WorkPackage.
	InitialToken psep.TrackingToken

	Store              tokenstore.TokenStore
	Invoker            invoker.EventHandlerInvoker
	TransactionManager TransactionManager
	Executor           psep.Executor
	Logger             psep.Logger
	Instrumentation    Instrumentation

	// BatchSize is the number of events handled per transaction.
	BatchSize int

	// CapacityMultiplier (K) bounds the pending queue at BatchSize*K.
	CapacityMultiplier int

	ClaimExtensionThreshold time.Duration

	// RollbackConfiguration decides, given a handler error, whether the
	// whole batch's transaction should be rolled back (true) or whether
	// progress up to the failing event should be committed before
	// aborting (false). Default: always true.
	RollbackConfiguration func(error) bool
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.CapacityMultiplier <= 0 {
		c.CapacityMultiplier = 2
	}
	if c.ClaimExtensionThreshold <= 0 {
		c.ClaimExtensionThreshold = 5 * time.Second
	}
	if c.TransactionManager == nil {
		c.TransactionManager = NoopTransactionManager{}
	}
	if c.Executor == nil {
		c.Executor = psep.GoroutineExecutor{}
	}
	if c.RollbackConfiguration == nil {
		c.RollbackConfiguration = func(error) bool { return true }
	}
}

// WorkPackage drains a per-segment in-memory queue, invoking the
// configured handler in batches and persisting the resulting token.
type WorkPackage struct {
	config Config

	mu                 sync.Mutex
	pending            []psep.TrackedEvent
	lastScheduledToken psep.TrackingToken
	persistedToken     psep.TrackingToken
	lastExtensionAt    time.Time
	state              psep.WorkPackageState
	aborted            bool
	abortReason        error
	errorCount         int
	running            bool

	doneOnce sync.Once
	doneCh   chan struct{}
}

// New constructs a WorkPackage in the Scheduled state, seeded with
// config.InitialToken.
func New(config Config) *WorkPackage {
	config.setDefaults()
	return &WorkPackage{
		config: config,
		// lastScheduledToken starts nil, not config.InitialToken: the
		// initial token shares its numeric position with the first event
		// at that position (a stream reopens inclusive of it), so
		// treating it as "already delivered" would make dispatchPhase's
		// already-covered check drop that first event forever.
		persistedToken:  config.InitialToken,
		lastExtensionAt: time.Now(),
		state:           psep.WorkPackageScheduled,
		doneCh:          make(chan struct{}),
	}
}

// Segment returns the segment this WorkPackage advances.
func (w *WorkPackage) Segment() psep.Segment { return w.config.Segment }

// State returns the current lifecycle state.
func (w *WorkPackage) State() psep.WorkPackageState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ScheduleEvent appends event to the pending queue. It is a no-op,
// returning false, if the WorkPackage is aborted or its queue is full.
func (w *WorkPackage) ScheduleEvent(event psep.TrackedEvent) bool {
	w.mu.Lock()
	if w.aborted || len(w.pending) >= w.capacity() {
		w.mu.Unlock()
		return false
	}
	w.pending = append(w.pending, event)
	w.lastScheduledToken = event.Token
	w.mu.Unlock()

	w.ScheduleBatchProcessing()
	return true
}

func (w *WorkPackage) capacity() int {
	return w.config.BatchSize * w.config.CapacityMultiplier
}

// HasRemainingCapacity reports whether the pending queue has room for
// more events.
func (w *WorkPackage) HasRemainingCapacity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) < w.capacity()
}

// LastDeliveredToken returns the highest token scheduled so far, which
// may be ahead of the persisted token if a batch is still in flight. It
// returns nil until the first event has been scheduled.
func (w *WorkPackage) LastDeliveredToken() psep.TrackingToken {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastScheduledToken
}

// Status returns an observable, eventually-consistent snapshot of this
// segment's progress.
func (w *WorkPackage) Status() psep.ProcessingStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := psep.ProcessingStatus{
		Segment:       w.config.Segment,
		TrackingToken: w.persistedToken,
		ErrorState:    w.aborted && w.abortReason != nil,
		ErrorCount:    w.errorCount,
		Replaying:     psep.IsReplayToken(w.persistedToken),
	}
	if w.persistedToken != nil {
		if pos, ok := w.persistedToken.Position(); ok {
			status.CurrentPosition = &pos
		}
	}
	status.CaughtUp = !status.Replaying && len(w.pending) == 0
	return status
}

// ScheduleBatchProcessing is an idempotent signal that the queue has
// work. If no batch is currently in flight, it submits one to the
// configured Executor.
func (w *WorkPackage) ScheduleBatchProcessing() {
	w.mu.Lock()
	if w.running || w.aborted {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.config.Executor.Submit(func() { w.runLoop(context.Background()) })
}

// markAborted records reason as the abort cause, if this is the first
// call, and reports whether the WorkPackage was already aborted.
func (w *WorkPackage) markAborted(reason error) (wasAlreadyAborted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wasAlreadyAborted = w.aborted
	w.aborted = true
	if !wasAlreadyAborted {
		w.abortReason = reason
	}
	return wasAlreadyAborted
}

// Abort marks the WorkPackage aborted and returns a channel that closes
// once the claim has been released and no batch remains in flight.
// Calling Abort more than once returns the same channel. If a batch is
// currently in flight, runLoop notices the aborted flag on its next
// iteration and finalizes; otherwise Abort submits finalization itself.
func (w *WorkPackage) Abort(reason error) <-chan struct{} {
	w.markAborted(reason)

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	if !running {
		w.config.Executor.Submit(func() { w.finalize(context.Background()) })
	}
	return w.doneCh
}

// runLoop processes one batch per invocation, resubmitting itself while
// work remains; it is the body submitted to the Executor.
func (w *WorkPackage) runLoop(ctx context.Context) {
	w.mu.Lock()
	aborted := w.aborted
	w.mu.Unlock()
	if aborted {
		w.finalize(ctx)
		return
	}

	w.mu.Lock()
	batch := w.drainBatchLocked()
	w.mu.Unlock()

	if len(batch) == 0 {
		if w.maybeExtendClaim(ctx) {
			return
		}
		w.park(psep.WorkPackageIdle, ctx)
		return
	}

	w.mu.Lock()
	w.state = psep.WorkPackageRunning
	w.mu.Unlock()

	start := time.Now()
	newToken, handledCount, err := w.processBatch(ctx, batch)
	w.observeBatch(handledCount, time.Since(start))

	if err != nil {
		w.markAborted(err)
		w.finalize(ctx)
		return
	}

	w.mu.Lock()
	w.persistedToken = newToken
	hasWork := len(w.pending) > 0
	w.mu.Unlock()

	if hasWork {
		w.config.Executor.Submit(func() { w.runLoop(ctx) })
		return
	}

	w.park(psep.WorkPackageScheduled, ctx)
}

// park marks the run loop idle, transitioning to idleState unless an
// abort was recorded while the batch was in flight, in which case it
// finalizes instead. If more work arrived in the meantime it
// resubmits itself. It reports whether it finalized, in which case
// the caller must not touch shared state afterward.
func (w *WorkPackage) park(idleState psep.WorkPackageState, ctx context.Context) bool {
	w.mu.Lock()
	if w.aborted {
		w.mu.Unlock()
		w.finalize(ctx)
		return true
	}
	w.state = idleState
	w.running = false
	hasWork := len(w.pending) > 0
	w.mu.Unlock()
	if hasWork {
		w.ScheduleBatchProcessing()
	}
	return false
}

func (w *WorkPackage) drainBatchLocked() []psep.TrackedEvent {
	n := w.config.BatchSize
	if n > len(w.pending) {
		n = len(w.pending)
	}
	batch := w.pending[:n]
	w.pending = w.pending[n:]
	return batch
}

// maybeExtendClaim refreshes the claim if idle past the configured
// threshold. It reports true if the claim could not be extended and the
// WorkPackage has been aborted and finalized as a result, in which case
// the caller must not touch shared state afterward.
func (w *WorkPackage) maybeExtendClaim(ctx context.Context) bool {
	w.mu.Lock()
	idle := time.Since(w.lastExtensionAt) >= w.config.ClaimExtensionThreshold
	w.mu.Unlock()
	if !idle {
		return false
	}
	if err := w.config.Store.ExtendClaim(ctx, w.config.ProcessorName, w.config.Segment.ID, w.config.OwnerID); err != nil {
		w.markAborted(fmt.Errorf("%w: %v", psep.ErrClaimLost, err))
		w.finalize(ctx)
		return true
	}
	w.mu.Lock()
	w.lastExtensionAt = time.Now()
	w.mu.Unlock()
	return false
}

// processBatch runs one transaction over batch: handling events in
// order, persisting the resulting token inside the same transaction,
// and reporting either the new persisted token or the error that
// aborted the work package.
func (w *WorkPackage) processBatch(ctx context.Context, batch []psep.TrackedEvent) (psep.TrackingToken, int, error) {
	w.mu.Lock()
	lastGood := w.persistedToken
	w.mu.Unlock()

	handled := 0
	var handlerErr error

	txErr := w.config.TransactionManager.Execute(ctx, func(txCtx context.Context) error {
		for _, event := range batch {
			ok, err := w.config.Invoker.CanHandle(event, w.config.Segment)
			if err != nil {
				handlerErr = err
				return err
			}
			if !ok {
				lastGood = advanceToken(lastGood, event.Token)
				continue
			}

			if err := w.config.Invoker.Handle(txCtx, event, w.config.Segment); err != nil {
				if w.config.RollbackConfiguration(err) {
					handlerErr = err
					return err
				}
				// Commit progress up to (not including) the failing
				// event, then abort with its error.
				if storeErr := w.config.Store.StoreToken(txCtx, w.config.ProcessorName, w.config.Segment.ID, w.config.OwnerID, lastGood); storeErr != nil {
					handlerErr = fmt.Errorf("%w: %v", psep.ErrClaimLost, storeErr)
					return handlerErr
				}
				handlerErr = err
				return nil
			}
			lastGood = advanceToken(lastGood, event.Token)
			handled++
		}

		if err := w.config.Store.StoreToken(txCtx, w.config.ProcessorName, w.config.Segment.ID, w.config.OwnerID, lastGood); err != nil {
			return fmt.Errorf("%w: %v", psep.ErrClaimLost, err)
		}
		return nil
	})

	if handlerErr != nil {
		w.mu.Lock()
		w.errorCount++
		w.mu.Unlock()
		return nil, handled, handlerErr
	}
	if txErr != nil {
		w.mu.Lock()
		w.errorCount++
		w.mu.Unlock()
		return nil, handled, txErr
	}
	return lastGood, handled, nil
}

// advanceToken folds next into current, unwrapping a ReplayToken back
// into its plain StartToken once next has caught up, instead of
// carrying a ReplayToken forever once a segment starts replaying.
func advanceToken(current, next psep.TrackingToken) psep.TrackingToken {
	if rt, ok := current.(*psep.ReplayToken); ok {
		return rt.Advance(next)
	}
	return next
}

func (w *WorkPackage) observeBatch(eventsHandled int, duration time.Duration) {
	if w.config.Instrumentation != nil {
		w.config.Instrumentation.ObserveBatch(w.config.Segment, eventsHandled, duration)
	}
}

// finalize releases the claim and transitions to Aborted exactly once.
func (w *WorkPackage) finalize(ctx context.Context) {
	w.doneOnce.Do(func() {
		_ = w.config.Store.ReleaseClaim(ctx, w.config.ProcessorName, w.config.Segment.ID, w.config.OwnerID)

		w.mu.Lock()
		w.state = psep.WorkPackageAborted
		reason := w.abortReason
		w.mu.Unlock()

		if w.config.Instrumentation != nil {
			msg := "shutdown"
			if reason != nil {
				msg = reason.Error()
			}
			w.config.Instrumentation.ObserveAbort(w.config.Segment, msg)
		}
		if w.config.Logger != nil {
			if reason != nil {
				w.config.Logger.Warn(ctx, "work package aborted", "segment", w.config.Segment.String(), "reason", reason)
			} else {
				w.config.Logger.Debug(ctx, "work package aborted", "segment", w.config.Segment.String())
			}
		}
		close(w.doneCh)
	})
}
