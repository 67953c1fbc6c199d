package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/pooledstream/psep"
)

// enqueueControlTask queues fn to run on the main loop goroutine during
// the next controlTaskPhase and wakes the loop so it doesn't wait out a
// full sleep first.
func (c *Coordinator) enqueueControlTask(fn func(ctx context.Context)) {
	c.controlMu.Lock()
	c.controlTasks = append(c.controlTasks, fn)
	c.controlMu.Unlock()
	c.signalWake()
}

// controlTaskPhase runs every control task queued since the previous
// iteration, one at a time, on the main loop goroutine so they never
// race with claim or dispatch.
func (c *Coordinator) controlTaskPhase(ctx context.Context) {
	for {
		c.controlMu.Lock()
		if len(c.controlTasks) == 0 {
			c.controlMu.Unlock()
			return
		}
		task := c.controlTasks[0]
		c.controlTasks = c.controlTasks[1:]
		c.controlMu.Unlock()
		task(ctx)
	}
}

func (c *Coordinator) observeControlTask(ctx context.Context, kind string, ok bool) {
	if c.config.Instrumentation != nil {
		c.config.Instrumentation.ObserveControlTask(c.config.ProcessorName, kind, ok)
	}
}

// ReleaseSegment aborts the work package owning segmentID, if this
// process owns it, and marks the segment locally unclaimable for twice
// the claim interval so another node gets a fair chance to pick it up.
func (c *Coordinator) ReleaseSegment(segmentID uint32) {
	c.enqueueControlTask(func(ctx context.Context) {
		c.mu.Lock()
		wp, owned := c.workPackages[segmentID]
		if owned {
			delete(c.workPackages, segmentID)
		}
		c.unclaimableUntil[segmentID] = time.Now().Add(2 * c.config.TokenClaimInterval)
		c.mu.Unlock()

		if !owned {
			c.observeControlTask(ctx, "release", false)
			return
		}
		<-wp.Abort(nil)
		c.observeControlTask(ctx, "release", true)
		logInfo(c.config.Logger, ctx, "segment released", "processor", c.config.ProcessorName, "segment", segmentID)
	})
}

// SplitSegment splits the segment identified by segmentID into two
// siblings that each keep its current token, re-claiming both under
// this process. The returned channel receives whether the split
// succeeded once the control task has run.
func (c *Coordinator) SplitSegment(segmentID uint32) <-chan bool {
	result := make(chan bool, 1)
	c.enqueueControlTask(func(ctx context.Context) {
		ok := c.splitSegment(ctx, segmentID)
		c.observeControlTask(ctx, "split", ok)
		result <- ok
	})
	return result
}

func (c *Coordinator) splitSegment(ctx context.Context, segmentID uint32) bool {
	if !c.config.Store.RequiresExplicitSegmentInitialization() {
		logWarn(c.config.Logger, ctx, "split unsupported by token store", "processor", c.config.ProcessorName, "segment", segmentID)
		return false
	}

	c.mu.Lock()
	wp, owned := c.workPackages[segmentID]
	c.mu.Unlock()
	if !owned {
		return false
	}

	token := wp.Status().TrackingToken
	lower, upper := wp.Segment().Split()

	<-wp.Abort(nil)

	if err := c.config.Store.InitializeSegment(ctx, c.config.ProcessorName, upper, token); err != nil {
		logError(c.config.Logger, ctx, "split: initialize sibling failed", "processor", c.config.ProcessorName, "segment", segmentID, "error", err)
		return false
	}

	lowerToken, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, lower.ID, c.config.OwnerID)
	if err != nil {
		logError(c.config.Logger, ctx, "split: reclaim lower failed", "processor", c.config.ProcessorName, "segment", lower.ID, "error", err)
		return false
	}
	upperToken, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, upper.ID, c.config.OwnerID)
	if err != nil {
		logError(c.config.Logger, ctx, "split: reclaim upper failed", "processor", c.config.ProcessorName, "segment", upper.ID, "error", err)
		return false
	}

	c.mu.Lock()
	c.workPackages[lower.ID] = c.spawnWorkPackage(lower, lowerToken)
	c.workPackages[upper.ID] = c.spawnWorkPackage(upper, upperToken)
	c.mu.Unlock()

	logInfo(c.config.Logger, ctx, "segment split", "processor", c.config.ProcessorName, "segment", segmentID, "lower", lower.ID, "upper", upper.ID)
	return true
}

// MergeSegment merges the segment identified by segmentID with its
// sibling, requiring this process to own or be able to claim both. The
// returned channel receives whether the merge succeeded.
func (c *Coordinator) MergeSegment(segmentID uint32) <-chan bool {
	result := make(chan bool, 1)
	c.enqueueControlTask(func(ctx context.Context) {
		ok := c.mergeSegment(ctx, segmentID)
		c.observeControlTask(ctx, "merge", ok)
		result <- ok
	})
	return result
}

func (c *Coordinator) mergeSegment(ctx context.Context, segmentID uint32) bool {
	if !c.config.Store.RequiresExplicitSegmentInitialization() {
		logWarn(c.config.Logger, ctx, "merge unsupported by token store", "processor", c.config.ProcessorName, "segment", segmentID)
		return false
	}

	c.mu.Lock()
	wp, owned := c.workPackages[segmentID]
	c.mu.Unlock()
	if !owned {
		return false
	}

	merged, siblingID, ok := wp.Segment().MergeTarget()
	if !ok {
		logWarn(c.config.Logger, ctx, "merge: segment has no sibling", "processor", c.config.ProcessorName, "segment", segmentID)
		return false
	}

	c.mu.Lock()
	siblingWP, siblingOwned := c.workPackages[siblingID]
	c.mu.Unlock()

	if !siblingOwned {
		token, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, siblingID, c.config.OwnerID)
		if err != nil {
			logWarn(c.config.Logger, ctx, "merge: sibling not claimable", "processor", c.config.ProcessorName, "segment", siblingID, "error", err)
			return false
		}
		siblingWP = c.spawnWorkPackage(psep.Segment{ID: siblingID, Mask: wp.Segment().Mask}, token)
		c.mu.Lock()
		c.workPackages[siblingID] = siblingWP
		c.mu.Unlock()
	}

	<-wp.Abort(nil)
	<-siblingWP.Abort(nil)

	survivorID := merged.ID
	deadID := segmentID
	if segmentID == survivorID {
		deadID = siblingID
	}

	// Abort released both claims; DeleteSegment requires the caller to
	// hold the claim on the segment it removes, so take it back first.
	if _, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, deadID, c.config.OwnerID); err != nil {
		logError(c.config.Logger, ctx, "merge: reclaim sibling failed", "processor", c.config.ProcessorName, "segment", deadID, "error", err)
		return false
	}

	if err := c.config.Store.DeleteSegment(ctx, c.config.ProcessorName, deadID, c.config.OwnerID); err != nil {
		logError(c.config.Logger, ctx, "merge: delete sibling failed", "processor", c.config.ProcessorName, "segment", deadID, "error", err)
		return false
	}

	c.mu.Lock()
	delete(c.workPackages, segmentID)
	delete(c.workPackages, siblingID)
	c.mu.Unlock()

	survivorToken, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, survivorID, c.config.OwnerID)
	if err != nil {
		logError(c.config.Logger, ctx, "merge: reclaim merged segment failed", "processor", c.config.ProcessorName, "segment", survivorID, "error", err)
		return false
	}

	c.mu.Lock()
	c.workPackages[survivorID] = c.spawnWorkPackage(merged, survivorToken)
	c.mu.Unlock()

	logInfo(c.config.Logger, ctx, "segments merged", "processor", c.config.ProcessorName, "segment", segmentID, "sibling", siblingID, "merged", survivorID)
	return true
}

// ResetTokens rewinds every segment's token via tokenBuilder and
// invokes the configured invoker's reset hook. Permitted only while the
// coordinator is not running, since a concurrent main loop could be
// mid-dispatch against the tokens being rewritten.
func (c *Coordinator) ResetTokens(tokenBuilder func(current psep.TrackingToken) psep.TrackingToken, resetContext any) <-chan error {
	result := make(chan error, 1)

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != psep.CoordinatorNotStarted && state != psep.CoordinatorStopped {
		result <- psep.ErrIllegalState
		return result
	}
	if !c.config.Invoker.SupportsReset() {
		result <- psep.ErrUnsupportedOperation
		return result
	}

	go func() {
		result <- c.resetTokens(context.Background(), tokenBuilder, resetContext)
	}()
	return result
}

func (c *Coordinator) resetTokens(ctx context.Context, tokenBuilder func(psep.TrackingToken) psep.TrackingToken, resetContext any) error {
	ids, err := c.config.Store.FetchSegments(ctx, c.config.ProcessorName)
	if err != nil {
		return fmt.Errorf("%w: %v", psep.ErrStoreUnavailable, err)
	}

	for _, id := range ids {
		current, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, id, c.config.OwnerID)
		if err != nil {
			return fmt.Errorf("%w: %v", psep.ErrUnableToClaim, err)
		}

		resetTo := current
		if tokenBuilder != nil {
			resetTo = tokenBuilder(current)
		}

		if err := c.config.Store.StoreToken(ctx, c.config.ProcessorName, id, c.config.OwnerID, psep.NewReplayToken(current, resetTo)); err != nil {
			return fmt.Errorf("%w: %v", psep.ErrUnableToClaim, err)
		}
		if err := c.config.Store.ReleaseClaim(ctx, c.config.ProcessorName, id, c.config.OwnerID); err != nil {
			return err
		}
	}

	return c.config.Invoker.PerformReset(ctx, resetContext)
}
