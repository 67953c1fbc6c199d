package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/workpackage"
)

var errNoClaimedSegments = errors.New("coordinator: no claimed segments")

// claimPhase lists this processor's known segments and claims as many
// unclaimed ones as MaxClaimedSegments allows, spawning a work package
// for each newly claimed segment.
func (c *Coordinator) claimPhase(ctx context.Context) error {
	ids, err := c.config.Store.FetchSegments(ctx, c.config.ProcessorName)
	if err != nil {
		return fmt.Errorf("%w: %v", psep.ErrStoreUnavailable, err)
	}

	masks := computeSegmentMasks(ids)
	now := time.Now()

	for _, id := range ids {
		c.mu.Lock()
		_, already := c.workPackages[id]
		claimed := len(c.workPackages)
		until, marked := c.unclaimableUntil[id]
		c.mu.Unlock()

		if already || claimed >= c.config.MaxClaimedSegments {
			continue
		}
		if marked && now.Before(until) {
			continue
		}

		token, err := c.config.Store.FetchToken(ctx, c.config.ProcessorName, id, c.config.OwnerID)
		if err != nil {
			if errors.Is(err, tokenstore.ErrUnableToClaim) {
				continue
			}
			return fmt.Errorf("%w: %v", psep.ErrStoreUnavailable, err)
		}

		segment := psep.Segment{ID: id, Mask: masks[id]}
		wp := c.spawnWorkPackage(segment, token)

		c.mu.Lock()
		c.workPackages[id] = wp
		delete(c.unclaimableUntil, id)
		n := len(c.workPackages)
		c.mu.Unlock()

		logInfo(c.config.Logger, ctx, "segment claimed", "processor", c.config.ProcessorName, "segment", id)
		if c.config.Instrumentation != nil {
			c.config.Instrumentation.SetClaimedSegments(c.config.ProcessorName, n)
		}
	}

	c.resetBackoff()
	return nil
}

// computeSegmentMasks derives, for every id in ids, the narrowest mask
// that distinguishes it from every other live segment. Masks are never
// persisted: they are recomputed from the live ID set whenever a
// segment is newly claimed, which is why split and merge only need to
// touch the two segments directly involved.
func computeSegmentMasks(ids []uint32) map[uint32]uint32 {
	masks := make(map[uint32]uint32, len(ids))
	for _, id := range ids {
		mask := uint32(0)
		for {
			collision := false
			for _, other := range ids {
				if other != id && other&mask == id&mask {
					collision = true
					break
				}
			}
			if !collision {
				break
			}
			mask = (mask << 1) | 1
		}
		masks[id] = mask
	}
	return masks
}

func (c *Coordinator) spawnWorkPackage(segment psep.Segment, token psep.TrackingToken) *workpackage.WorkPackage {
	return workpackage.New(workpackage.Config{
		ProcessorName:           c.config.ProcessorName,
		OwnerID:                 c.config.OwnerID,
		Segment:                 segment,
		InitialToken:            token,
		Store:                   c.config.Store,
		Invoker:                 c.config.Invoker,
		TransactionManager:      c.config.TransactionManager,
		Executor:                c.config.WorkerExecutor,
		Logger:                  c.config.Logger,
		Instrumentation:         c.config.Instrumentation,
		BatchSize:               c.config.BatchSize,
		ClaimExtensionThreshold: c.config.ClaimExtensionThreshold,
		RollbackConfiguration:   c.config.RollbackConfiguration,
	})
}

// streamPhase opens the upstream stream from the lowest token among
// currently claimed segments, and reopens it whenever the set of
// claimed segments has changed since it was last opened (a split,
// merge, release, or newly-won claim), so a segment added after the
// stream was first opened still gets positioned correctly. The
// comparison against the previously-open segment set is skipped for
// streamOpenCheckGap after a successful check to avoid recomputing the
// set on every loop tick while nothing has changed.
func (c *Coordinator) streamPhase(ctx context.Context) error {
	c.mu.Lock()
	open := c.stream != nil
	skip := open && time.Since(c.lastStreamCheck) < streamOpenCheckGap
	c.mu.Unlock()
	if skip {
		return nil
	}

	c.mu.Lock()
	current := make(map[uint32]struct{}, len(c.workPackages))
	for id := range c.workPackages {
		current[id] = struct{}{}
	}
	unchanged := open && segmentSetsEqual(c.streamSegments, current)
	c.lastStreamCheck = time.Now()
	c.mu.Unlock()
	if unchanged {
		return nil
	}

	token, err := c.lowestClaimedToken()
	if err != nil {
		return nil
	}

	stream, err := c.config.Source.OpenStream(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", psep.ErrStreamUnavailable, err)
	}

	pushCapable := stream.SetOnAvailableCallback(c.signalWake)

	c.mu.Lock()
	old := c.stream
	c.stream = stream
	c.pushCapable = pushCapable
	c.streamSegments = current
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	logInfo(c.config.Logger, ctx, "stream opened", "processor", c.config.ProcessorName, "push", pushCapable, "segments", len(current))
	return nil
}

func segmentSetsEqual(a, b map[uint32]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func (c *Coordinator) lowestClaimedToken() (psep.TrackingToken, error) {
	c.mu.Lock()
	packages := make([]*workpackage.WorkPackage, 0, len(c.workPackages))
	for _, wp := range c.workPackages {
		packages = append(packages, wp)
	}
	c.mu.Unlock()
	if len(packages) == 0 {
		return nil, errNoClaimedSegments
	}

	var lowest psep.TrackingToken
	for _, wp := range packages {
		tok := wp.Status().TrackingToken
		if tok == nil {
			continue
		}
		if lowest == nil {
			lowest = tok
			continue
		}
		lp, lok := lowest.Position()
		tp, tok2 := tok.Position()
		if lok && tok2 && tp < lp {
			lowest = tok
		}
	}
	return lowest, nil
}

// dispatchPhase delivers events from the open stream to every work
// package whose segment matches and that hasn't already delivered past
// this event (a replayed or reopened stream can redeliver events a work
// package already covers), advancing the stream only once every work
// package the event will actually reach has capacity to accept it.
func (c *Coordinator) dispatchPhase(ctx context.Context) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		packages := make([]*workpackage.WorkPackage, 0, len(c.workPackages))
		for _, wp := range c.workPackages {
			packages = append(packages, wp)
		}
		c.mu.Unlock()
		if len(packages) == 0 {
			return
		}

		event, ok := stream.Peek()
		if !ok {
			return
		}

		matched := c.routeEvent(event, packages)
		deliverTo := matched[:0:0]
		for _, wp := range matched {
			if last := wp.LastDeliveredToken(); last != nil && last.Covers(event.Token) {
				continue
			}
			deliverTo = append(deliverTo, wp)
		}

		for _, wp := range deliverTo {
			if !wp.HasRemainingCapacity() {
				return
			}
		}

		if !c.config.Invoker.CanHandleType(event.PayloadType) {
			stream.SkipMessagesWithPayloadTypeOf(event)
		}

		if _, err := stream.NextAvailable(ctx); err != nil {
			return
		}

		for _, wp := range deliverTo {
			wp.ScheduleEvent(event)
		}
	}
}

func (c *Coordinator) routeEvent(event psep.TrackedEvent, packages []*workpackage.WorkPackage) []*workpackage.WorkPackage {
	hash := psep.HashSequencingIdentifier(event.SequencingIdentifier)
	var matched []*workpackage.WorkPackage
	for _, wp := range packages {
		if wp.Segment().Matches(hash) {
			matched = append(matched, wp)
		}
	}
	return matched
}

// livenessPhase removes work packages that aborted on their own (e.g.
// on a handler failure) from the live set, so the next claim phase can
// pick the segment back up.
func (c *Coordinator) livenessPhase(ctx context.Context) {
	c.mu.Lock()
	var dead []uint32
	for id, wp := range c.workPackages {
		if wp.State() == psep.WorkPackageAborted {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(c.workPackages, id)
	}
	n := len(c.workPackages)
	c.mu.Unlock()

	for _, id := range dead {
		logWarn(c.config.Logger, ctx, "work package aborted, removed from coordinator", "processor", c.config.ProcessorName, "segment", id)
	}
	if c.config.Instrumentation != nil {
		c.config.Instrumentation.SetClaimedSegments(c.config.ProcessorName, n)
	}
}
