// Package processor wires the coordinator, work packages, and a
// user's stream/store/handler into the public Processor façade.
package processor

import (
	"fmt"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/source"
	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/workpackage"
)

// Option configures a Processor.
type Option func(*config)

// config holds the internal configuration for building a Processor.
type config struct {
	name    string
	ownerID string

	source              source.Source
	store               tokenstore.TokenStore
	invoker             invoker.EventHandlerInvoker
	transactionManager  workpackage.TransactionManager
	coordinatorExecutor psep.Executor
	workerExecutor      psep.Executor
	logger              psep.Logger
	instrumentation     Instrumentation

	initialSegmentCount int
	initialToken        psep.TrackingToken

	tokenClaimInterval      time.Duration
	claimExtensionThreshold time.Duration
	batchSize               int
	maxClaimedSegments      int

	rollbackConfiguration func(error) bool
	errorHandler          func(error)
}

// Instrumentation is the union of everything a Processor's
// sub-components can observe. A value satisfying this, passed to
// WithInstrumentation, is wired into both the coordinator and every
// work package it spawns.
type Instrumentation interface {
	workpackage.Instrumentation
	SetClaimedSegments(processor string, n int)
	ObserveControlTask(processor, kind string, ok bool)
}

// WithName sets the processor name used to key segments in the Token
// Store. New already sets this from its own name argument; WithName
// exists so tests can build a config without going through New.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithOwnerID sets the identifier this process claims segments under.
// Defaults to a freshly generated UUID, which is almost always wrong
// for a process that restarts and expects to reclaim its own segments
// by identity rather than by winning a race against its old claims
// expiring.
func WithOwnerID(id string) Option {
	return func(c *config) { c.ownerID = id }
}

// WithMessageSource sets the upstream event stream. Required.
func WithMessageSource(s source.Source) Option {
	return func(c *config) { c.source = s }
}

// WithTokenStore sets the durable claim-and-progress store. Required.
func WithTokenStore(store tokenstore.TokenStore) Option {
	return func(c *config) { c.store = store }
}

// WithEventHandlerInvoker sets the handler dispatch. Required.
func WithEventHandlerInvoker(inv invoker.EventHandlerInvoker) Option {
	return func(c *config) { c.invoker = inv }
}

// WithTransactionManager sets the transaction boundary each batch runs
// inside. Required; use workpackage.NoopTransactionManager for handlers
// that manage their own durability.
func WithTransactionManager(tm workpackage.TransactionManager) Option {
	return func(c *config) { c.transactionManager = tm }
}

// WithCoordinatorExecutor sets the executor the main loop is submitted
// on. Required; use psep.GoroutineExecutor for a plain goroutine per
// submission.
func WithCoordinatorExecutor(e psep.Executor) Option {
	return func(c *config) { c.coordinatorExecutor = e }
}

// WithWorkerExecutor sets the executor each work package's batch loop is
// submitted on. Required; use psep.GoroutineExecutor for a plain
// goroutine per submission.
func WithWorkerExecutor(e psep.Executor) Option {
	return func(c *config) { c.workerExecutor = e }
}

// WithLogger sets the structured logger. Defaults to nil (no logging).
func WithLogger(l psep.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithInstrumentation sets the metrics sink shared by the coordinator
// and every work package.
func WithInstrumentation(i Instrumentation) Option {
	return func(c *config) { c.instrumentation = i }
}

// WithInitialSegmentCount sets how many segments are created the first
// time this processor runs against a fresh Token Store. Defaults to 1.
// Has no effect once segments already exist.
func WithInitialSegmentCount(n int) Option {
	return func(c *config) { c.initialSegmentCount = n }
}

// WithInitialToken sets the starting position used only when segments
// are created for the first time. Defaults to the stream's head.
func WithInitialToken(tok psep.TrackingToken) Option {
	return func(c *config) { c.initialToken = tok }
}

// WithTokenClaimInterval sets how often the coordinator re-evaluates
// claims when the source can push new events (a poll-only source is
// checked every 25ms), and how long a released segment is held back
// from reclaiming. Claims themselves are extended by the work packages.
// Defaults to 5s.
func WithTokenClaimInterval(d time.Duration) Option {
	return func(c *config) { c.tokenClaimInterval = d }
}

// WithClaimExtensionThreshold sets how long a work package waits since
// its last claim extension before extending again; the check runs when
// a batch finds its queue empty. Defaults to 5s.
func WithClaimExtensionThreshold(d time.Duration) Option {
	return func(c *config) { c.claimExtensionThreshold = d }
}

// WithBatchSize sets the number of events handled per transaction.
// Defaults to 1.
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxClaimedSegments caps how many segments a single Processor
// instance will claim at once. Defaults to unbounded.
func WithMaxClaimedSegments(n int) Option {
	return func(c *config) { c.maxClaimedSegments = n }
}

// WithRollbackConfiguration decides, per handler error, whether the
// whole batch rolls back (true) or commits everything before the
// failing event (false). Defaults to always rolling back.
func WithRollbackConfiguration(fn func(error) bool) Option {
	return func(c *config) { c.rollbackConfiguration = fn }
}

// WithErrorHandler is invoked, without blocking, on every error that
// pauses the coordinator's main loop.
func WithErrorHandler(fn func(error)) Option {
	return func(c *config) { c.errorHandler = fn }
}

func newConfig(opts ...Option) (*config, error) {
	c := &config{
		initialSegmentCount:     1,
		tokenClaimInterval:      5 * time.Second,
		claimExtensionThreshold: 5 * time.Second,
		batchSize:               1,
		rollbackConfiguration:   func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *config) validate() error {
	if c.name == "" {
		return fmt.Errorf("%w: name is required, use WithName", psep.ErrConfiguration)
	}
	if c.source == nil {
		return fmt.Errorf("%w: message source is required, use WithMessageSource", psep.ErrConfiguration)
	}
	if c.store == nil {
		return fmt.Errorf("%w: token store is required, use WithTokenStore", psep.ErrConfiguration)
	}
	if c.invoker == nil {
		return fmt.Errorf("%w: event handler invoker is required, use WithEventHandlerInvoker", psep.ErrConfiguration)
	}
	if c.transactionManager == nil {
		return fmt.Errorf("%w: transaction manager is required, use WithTransactionManager", psep.ErrConfiguration)
	}
	if c.coordinatorExecutor == nil {
		return fmt.Errorf("%w: coordinator executor is required, use WithCoordinatorExecutor", psep.ErrConfiguration)
	}
	if c.workerExecutor == nil {
		return fmt.Errorf("%w: worker executor is required, use WithWorkerExecutor", psep.ErrConfiguration)
	}
	if c.initialSegmentCount <= 0 {
		return fmt.Errorf("%w: initial segment count must be positive", psep.ErrConfiguration)
	}
	if c.batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", psep.ErrConfiguration)
	}
	return nil
}
