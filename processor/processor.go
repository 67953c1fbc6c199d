package processor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/coordinator"
)

// State enumerates the lifecycle states of the Processor façade.
type State int

const (
	NotStarted State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Processor is the public entry point: it owns one Coordinator and
// exposes the lifecycle and control-task operations an embedding
// application drives.
type Processor struct {
	config      *config
	coordinator *coordinator.Coordinator

	mu    sync.Mutex
	state State
}

// New builds a Processor named name from opts. Returns
// psep.ErrConfiguration if a required option is missing. No goroutine
// is spawned until Start is called.
func New(name string, opts ...Option) (*Processor, error) {
	opts = append([]Option{WithName(name)}, opts...)
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.ownerID == "" {
		cfg.ownerID = uuid.NewString()
	}

	coordConfig := coordinator.Config{
		ProcessorName:           cfg.name,
		OwnerID:                 cfg.ownerID,
		Source:                  cfg.source,
		Store:                   cfg.store,
		Invoker:                 cfg.invoker,
		TransactionManager:      cfg.transactionManager,
		CoordinatorExecutor:     cfg.coordinatorExecutor,
		WorkerExecutor:          cfg.workerExecutor,
		Logger:                  cfg.logger,
		InitialSegmentCount:     cfg.initialSegmentCount,
		InitialToken:            cfg.initialToken,
		TokenClaimInterval:      cfg.tokenClaimInterval,
		ClaimExtensionThreshold: cfg.claimExtensionThreshold,
		BatchSize:               cfg.batchSize,
		MaxClaimedSegments:      cfg.maxClaimedSegments,
		RollbackConfiguration:   cfg.rollbackConfiguration,
		ErrorHandler:            cfg.errorHandler,
	}
	if cfg.instrumentation != nil {
		coordConfig.Instrumentation = cfg.instrumentation
	}

	return &Processor{
		config:      cfg,
		coordinator: coordinator.New(coordConfig),
		state:       NotStarted,
	}, nil
}

// Start claims this processor's segments and begins dispatching events.
// Start is idempotent: calling it while already running is a no-op.
// Calling it again after ShutDown resumes processing. Calling it while
// a shutdown is still in progress returns psep.ErrIllegalState.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Running {
		p.mu.Unlock()
		return nil
	}
	if p.state == ShuttingDown {
		p.mu.Unlock()
		return psep.ErrIllegalState
	}
	p.mu.Unlock()

	if err := p.coordinator.Start(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.state = Running
	p.mu.Unlock()
	return nil
}

// ShutDown aborts every work package, releases their claims, and
// blocks until the coordinator's main loop has fully stopped.
func (p *Processor) ShutDown(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return nil
	}
	p.state = ShuttingDown
	p.mu.Unlock()

	err := p.coordinator.Shutdown(ctx)

	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()
	return err
}

// ShutdownAsync starts shutdown and returns a buffered channel that
// receives ShutDown's result once it completes, without blocking the
// caller.
func (p *Processor) ShutdownAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- p.ShutDown(ctx)
	}()
	return result
}

// IsRunning reports whether the processor is actively dispatching.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Running
}

// IsError reports whether the coordinator's main loop is currently
// paused on an error. It will keep retrying with backoff on its own.
func (p *Processor) IsError() bool {
	return p.coordinator.State() == psep.CoordinatorPausedError
}

// ProcessingStatus returns a snapshot of every currently claimed
// segment's progress.
func (p *Processor) ProcessingStatus() map[uint32]psep.ProcessingStatus {
	return p.coordinator.ProcessingStatus()
}

// ReleaseSegment gives up the segment's claim so another process can
// pick it up, if this process currently owns it.
func (p *Processor) ReleaseSegment(segmentID uint32) {
	p.coordinator.ReleaseSegment(segmentID)
}

// SplitSegment splits segmentID into two siblings owned by this
// process. The returned channel receives whether the split succeeded.
func (p *Processor) SplitSegment(segmentID uint32) <-chan bool {
	return p.coordinator.SplitSegment(segmentID)
}

// MergeSegment merges segmentID with its sibling. The returned channel
// receives whether the merge succeeded.
func (p *Processor) MergeSegment(segmentID uint32) <-chan bool {
	return p.coordinator.MergeSegment(segmentID)
}

// ResetTokens rewinds every segment's token via tokenBuilder and
// invokes the configured handler's reset hook. Permitted only while
// the processor is not running.
func (p *Processor) ResetTokens(tokenBuilder func(current psep.TrackingToken) psep.TrackingToken, resetContext any) <-chan error {
	p.mu.Lock()
	running := p.state == Running
	p.mu.Unlock()
	if running {
		result := make(chan error, 1)
		result <- psep.ErrIllegalState
		return result
	}
	return p.coordinator.ResetTokens(tokenBuilder, resetContext)
}

// SupportsReset reports whether ResetTokens is meaningful for the
// configured event handler invoker.
func (p *Processor) SupportsReset() bool {
	return p.config.invoker.SupportsReset()
}

// MaxCapacity returns the largest number of segments this processor
// instance will claim at once.
func (p *Processor) MaxCapacity() int {
	if p.config.maxClaimedSegments <= 0 {
		return 1<<31 - 1
	}
	return p.config.maxClaimedSegments
}

// GetTokenStoreIdentifier returns a stable identifier for the
// underlying Token Store instance, if it exposes one.
func (p *Processor) GetTokenStoreIdentifier(ctx context.Context) (string, bool, error) {
	return p.config.store.RetrieveStorageIdentifier(ctx)
}
