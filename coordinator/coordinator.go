// Package coordinator implements the single-reader main loop that
// claims segments, reads the upstream stream, and fans events out to
// per-segment work packages.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/source"
	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/workpackage"
)

// Instrumentation receives coordinator- and work-package-level
// observability events. A nil Instrumentation is always safe.
type Instrumentation interface {
	workpackage.Instrumentation
	SetClaimedSegments(processor string, n int)
	ObserveControlTask(processor, kind string, ok bool)
}

// Config configures a Coordinator.
type Config struct {
	ProcessorName string
	OwnerID       string

	Source               source.Source
	Store                tokenstore.TokenStore
	Invoker              invoker.EventHandlerInvoker
	TransactionManager   workpackage.TransactionManager
	CoordinatorExecutor  psep.Executor
	WorkerExecutor       psep.Executor
	Logger               psep.Logger
	Instrumentation      Instrumentation

	// InitialSegmentCount is used only the first time this processor's
	// segments are initialized in the Token Store.
	InitialSegmentCount int
	InitialToken        psep.TrackingToken

	TokenClaimInterval      time.Duration
	ClaimExtensionThreshold time.Duration
	BatchSize               int
	MaxClaimedSegments      int

	RollbackConfiguration func(error) bool

	// ErrorHandler, if set, is invoked with every error that pauses the
	// main loop. It must not block.
	ErrorHandler func(error)
}

func (c *Config) setDefaults() {
	if c.InitialSegmentCount <= 0 {
		c.InitialSegmentCount = 1
	}
	if c.TokenClaimInterval <= 0 {
		c.TokenClaimInterval = 5 * time.Second
	}
	if c.ClaimExtensionThreshold <= 0 {
		c.ClaimExtensionThreshold = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxClaimedSegments <= 0 {
		c.MaxClaimedSegments = 1<<31 - 1
	}
	if c.CoordinatorExecutor == nil {
		c.CoordinatorExecutor = psep.GoroutineExecutor{}
	}
	if c.WorkerExecutor == nil {
		c.WorkerExecutor = psep.GoroutineExecutor{}
	}
	if c.RollbackConfiguration == nil {
		c.RollbackConfiguration = func(error) bool { return true }
	}
}

const (
	peekPollInterval   = 25 * time.Millisecond
	streamOpenCheckGap = 100 * time.Millisecond
	minErrorBackoff    = 500 * time.Millisecond
	maxErrorBackoff    = time.Minute
)

// Coordinator owns the upstream stream handle and the live set of work
// packages for one processor. Exactly one Coordinator runs the main
// loop at a time; the public façade is the only intended caller.
type Coordinator struct {
	config Config

	mu               sync.Mutex
	state            psep.CoordinatorState
	workPackages     map[uint32]*workpackage.WorkPackage
	unclaimableUntil map[uint32]time.Time
	errorBackoff     time.Duration
	pauseUntil       time.Time
	lastErr          error

	stream          source.BlockingStream
	pushCapable     bool
	streamSegments  map[uint32]struct{}
	lastStreamCheck time.Time

	controlMu    sync.Mutex
	controlTasks []func(ctx context.Context)

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// New constructs a Coordinator in the NotStarted state.
func New(config Config) *Coordinator {
	config.setDefaults()
	return &Coordinator{
		config:           config,
		state:            psep.CoordinatorNotStarted,
		workPackages:     make(map[uint32]*workpackage.WorkPackage),
		unclaimableUntil: make(map[uint32]time.Time),
		errorBackoff:     minErrorBackoff,
		wake:             make(chan struct{}, 1),
		doneCh:           make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() psep.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start ensures this processor's segments exist in the Token Store and
// submits the main loop on the configured coordinator executor. Start
// is a no-op if already started.
func (c *Coordinator) Start(parentCtx context.Context) error {
	c.mu.Lock()
	if c.state != psep.CoordinatorNotStarted && c.state != psep.CoordinatorStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = psep.CoordinatorStarting
	c.mu.Unlock()

	if err := c.ensureSegmentsInitialized(parentCtx); err != nil {
		c.mu.Lock()
		c.state = psep.CoordinatorStopped
		c.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c.mu.Lock()
	c.ctx = ctx
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.state = psep.CoordinatorRunning
	c.mu.Unlock()

	c.config.CoordinatorExecutor.Submit(func() { c.runLoop(ctx) })
	return nil
}

func (c *Coordinator) ensureSegmentsInitialized(ctx context.Context) error {
	ids, err := c.config.Store.FetchSegments(ctx, c.config.ProcessorName)
	if err != nil {
		return fmt.Errorf("%w: %v", psep.ErrStoreUnavailable, err)
	}
	if len(ids) > 0 {
		return nil
	}
	err = c.config.Store.InitializeTokenSegments(ctx, c.config.ProcessorName, c.config.InitialSegmentCount, c.config.InitialToken)
	if err != nil && err != tokenstore.ErrUnableToInitialize {
		return fmt.Errorf("%w: %v", psep.ErrStoreUnavailable, err)
	}
	return nil
}

// Shutdown aborts every work package, releases claims, closes the
// stream, and stops the main loop. It blocks until the loop has
// exited.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == psep.CoordinatorNotStarted || c.state == psep.CoordinatorStopped {
		c.state = psep.CoordinatorStopped
		c.mu.Unlock()
		return nil
	}
	c.state = psep.CoordinatorStopping
	cancel := c.cancel
	done := c.doneCh
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.signalWake()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Coordinator) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ProcessingStatus returns a snapshot of every currently claimed
// segment's progress.
func (c *Coordinator) ProcessingStatus() map[uint32]psep.ProcessingStatus {
	c.mu.Lock()
	packages := make([]*workpackage.WorkPackage, 0, len(c.workPackages))
	for _, wp := range c.workPackages {
		packages = append(packages, wp)
	}
	c.mu.Unlock()

	status := make(map[uint32]psep.ProcessingStatus, len(packages))
	for _, wp := range packages {
		status[wp.Segment().ID] = wp.Status()
	}
	return status
}

// runLoop is the coordinator's single long-lived task, submitted once
// by Start. Each iteration claims segments, keeps the stream open,
// dispatches events, runs queued control tasks and checks work-package
// liveness, until ctx is done.
func (c *Coordinator) runLoop(ctx context.Context) {
	defer close(c.doneCh)
	defer c.closeStream()
	defer c.abortAllWorkPackages(ctx)

	for {
		if ctx.Err() != nil {
			c.mu.Lock()
			c.state = psep.CoordinatorStopped
			c.mu.Unlock()
			return
		}

		if c.pausedLocked() {
			c.sleep(ctx, time.Until(c.pauseUntilLocked()))
			continue
		}

		if err := c.claimPhase(ctx); err != nil {
			c.enterPausedError(ctx, err)
			continue
		}
		if err := c.streamPhase(ctx); err != nil {
			c.enterPausedError(ctx, err)
			continue
		}

		c.dispatchPhase(ctx)
		c.controlTaskPhase(ctx)
		c.livenessPhase(ctx)

		c.mu.Lock()
		pushCapable := c.pushCapable
		c.mu.Unlock()
		sleepFor := c.config.TokenClaimInterval
		if !pushCapable {
			sleepFor = peekPollInterval
		}
		c.sleep(ctx, sleepFor)
	}
}

func (c *Coordinator) pausedLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == psep.CoordinatorPausedError && time.Now().Before(c.pauseUntil)
}

func (c *Coordinator) pauseUntilLocked() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseUntil
}

func (c *Coordinator) enterPausedError(ctx context.Context, err error) {
	c.mu.Lock()
	c.state = psep.CoordinatorPausedError
	c.lastErr = err
	backoff := c.errorBackoff
	c.errorBackoff *= 2
	if c.errorBackoff > maxErrorBackoff {
		c.errorBackoff = maxErrorBackoff
	}
	c.pauseUntil = time.Now().Add(backoff)
	c.mu.Unlock()

	logError(c.config.Logger, ctx, "coordinator paused on error", "processor", c.config.ProcessorName, "error", err, "backoff", backoff)
	if c.config.ErrorHandler != nil {
		c.config.ErrorHandler(err)
	}
	c.sleep(ctx, backoff)
}

func (c *Coordinator) resetBackoff() {
	c.mu.Lock()
	c.errorBackoff = minErrorBackoff
	if c.state == psep.CoordinatorPausedError {
		c.state = psep.CoordinatorRunning
	}
	c.mu.Unlock()
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-c.wake:
	}
}

func (c *Coordinator) closeStream() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}

func (c *Coordinator) abortAllWorkPackages(ctx context.Context) {
	c.mu.Lock()
	packages := make([]*workpackage.WorkPackage, 0, len(c.workPackages))
	for id, wp := range c.workPackages {
		packages = append(packages, wp)
		delete(c.workPackages, id)
	}
	c.mu.Unlock()

	for _, wp := range packages {
		<-wp.Abort(context.Canceled)
	}
}
