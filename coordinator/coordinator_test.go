package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/source"
	"github.com/pooledstream/psep/tokenstore/memory"
	"github.com/pooledstream/psep/workpackage"
)

// failingExtendStore wraps a real memory.Store so every method behaves
// normally except ExtendClaim, which always fails, letting tests force
// a claim-extension failure without depending on claim TTL expiry.
type failingExtendStore struct {
	*memory.Store
}

func (failingExtendStore) ExtendClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	return errors.New("boom")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestCoordinator(t *testing.T, src *source.MemorySource, inv invoker.EventHandlerInvoker) *Coordinator {
	return New(Config{
		ProcessorName:           "proc",
		OwnerID:                 "owner-a",
		Source:                  src,
		Store:                   memory.New(10 * time.Second),
		Invoker:                 inv,
		InitialSegmentCount:     1,
		InitialToken:            psep.NewGlobalSequenceToken(0),
		TokenClaimInterval:      20 * time.Millisecond,
		ClaimExtensionThreshold: time.Hour,
		BatchSize:               1,
	})
}

func TestCoordinatorDeliversPublishedEvents(t *testing.T) {
	src := source.NewMemorySource(true)
	var handled []string
	var mu sync.Mutex
	inv := invoker.NewMock()
	inv.HandleFunc = func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		mu.Lock()
		handled = append(handled, event.PayloadType)
		mu.Unlock()
		return nil
	}

	c := newTestCoordinator(t, src, inv)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	src.Publish("order-1", "OrderPlaced", nil)
	src.Publish("order-2", "OrderShipped", nil)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	})
}

func TestCoordinatorShutdownAbortsWorkPackagesAndReleasesClaims(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := newTestCoordinator(t, src, inv)
	require.NoError(t, c.Start(context.Background()))

	waitFor(t, func() bool {
		status := c.ProcessingStatus()
		return len(status) == 1
	})

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, psep.CoordinatorStopped, c.State())
	assert.Empty(t, c.ProcessingStatus())
}

func TestCoordinatorRestartsAfterShutdown(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := newTestCoordinator(t, src, inv)

	require.NoError(t, c.Start(context.Background()))
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })
	require.NoError(t, c.Shutdown(context.Background()))

	require.NoError(t, c.Start(context.Background()))
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestCoordinatorReleaseSegmentMakesItUnclaimableLocally(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := newTestCoordinator(t, src, inv)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })

	c.ReleaseSegment(0)
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 0 })

	c.mu.Lock()
	_, marked := c.unclaimableUntil[0]
	c.mu.Unlock()
	assert.True(t, marked)
}

func TestCoordinatorSplitSegmentProducesTwoClaimedSiblings(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := New(Config{
		ProcessorName:           "proc",
		OwnerID:                 "owner-a",
		Source:                  src,
		Store:                   memory.New(10 * time.Second),
		Invoker:                 inv,
		InitialSegmentCount:     1,
		InitialToken:            psep.NewGlobalSequenceToken(0),
		TokenClaimInterval:      20 * time.Millisecond,
		ClaimExtensionThreshold: time.Hour,
		BatchSize:               1,
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })

	ok := <-c.SplitSegment(0)
	assert.True(t, ok)
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 2 })
}

func TestCoordinatorResetTokensRequiresStoppedState(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	inv.SupportsResetFunc = func() bool { return true }
	c := newTestCoordinator(t, src, inv)
	require.NoError(t, c.Start(context.Background()))

	err := <-c.ResetTokens(nil, nil)
	assert.ErrorIs(t, err, psep.ErrIllegalState)

	require.NoError(t, c.Shutdown(context.Background()))
}

func TestCoordinatorMergeSegmentRecombinesSiblings(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := New(Config{
		ProcessorName:           "proc",
		OwnerID:                 "owner-a",
		Source:                  src,
		Store:                   memory.New(10 * time.Second),
		Invoker:                 inv,
		InitialSegmentCount:     1,
		InitialToken:            psep.NewGlobalSequenceToken(0),
		TokenClaimInterval:      20 * time.Millisecond,
		ClaimExtensionThreshold: time.Hour,
		BatchSize:               1,
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })

	ok := <-c.SplitSegment(0)
	require.True(t, ok)
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 2 })

	var siblingID uint32
	for id := range c.ProcessingStatus() {
		siblingID = id
		break
	}

	ok = <-c.MergeSegment(siblingID)
	assert.True(t, ok)
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })
}

func TestCoordinatorClaimExtensionFailureAbortsWorkPackage(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	c := New(Config{
		ProcessorName:           "proc",
		OwnerID:                 "owner-a",
		Source:                  src,
		Store:                   failingExtendStore{memory.New(10 * time.Second)},
		Invoker:                 inv,
		InitialSegmentCount:     1,
		InitialToken:            psep.NewGlobalSequenceToken(0),
		TokenClaimInterval:      20 * time.Millisecond,
		ClaimExtensionThreshold: 5 * time.Millisecond,
		BatchSize:               1,
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 1 })
	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	var wp *workpackage.WorkPackage
	for _, w := range c.workPackages {
		wp = w
	}
	c.mu.Unlock()
	require.NotNil(t, wp)

	// Nudge the idle work package so its run loop notices the expired
	// claim-extension threshold and attempts to refresh the claim.
	wp.ScheduleBatchProcessing()

	waitFor(t, func() bool { return wp.State() == psep.WorkPackageAborted })
	waitFor(t, func() bool { return len(c.ProcessingStatus()) == 0 })
}

func TestCoordinatorResetReplaysPreviouslyHandledEvents(t *testing.T) {
	src := source.NewMemorySource(true)
	inv := invoker.NewMock()
	inv.SupportsResetFunc = func() bool { return true }

	var mu sync.Mutex
	var handled []string
	inv.HandleFunc = func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		mu.Lock()
		handled = append(handled, event.PayloadType)
		mu.Unlock()
		return nil
	}

	resetCalled := false
	inv.PerformResetFunc = func(ctx context.Context, resetContext any) error {
		resetCalled = true
		return nil
	}

	c := newTestCoordinator(t, src, inv)
	require.NoError(t, c.Start(context.Background()))

	src.Publish("order-1", "OrderPlaced", nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	})

	require.NoError(t, c.Shutdown(context.Background()))

	err := <-c.ResetTokens(func(current psep.TrackingToken) psep.TrackingToken {
		return psep.NewGlobalSequenceToken(0)
	}, nil)
	require.NoError(t, err)
	assert.True(t, resetCalled)

	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	})

	waitFor(t, func() bool {
		status := c.ProcessingStatus()
		s, ok := status[0]
		return ok && !s.Replaying
	})
}
