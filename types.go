package psep

import (
	"fmt"
	"time"
)

// TrackingToken is an opaque, totally-ordered position in the upstream
// event stream. Implementations must be comparable by value (usable as
// map keys or with ==) so that the token store and work packages can
// detect "no change" cheaply.
type TrackingToken interface {
	// Position returns the token's position, if one can be expressed as
	// a single ordinal. Composite tokens (e.g. across segments) may
	// return false.
	Position() (int64, bool)

	// Covers reports whether this token has processed at least
	// everything other has processed.
	Covers(other TrackingToken) bool
}

// GlobalSequenceToken is the reference TrackingToken implementation: a
// single monotonically increasing position in the upstream stream.
type GlobalSequenceToken struct {
	Pos int64
}

// NewGlobalSequenceToken returns a GlobalSequenceToken at pos.
func NewGlobalSequenceToken(pos int64) GlobalSequenceToken {
	return GlobalSequenceToken{Pos: pos}
}

// Position implements TrackingToken.
func (t GlobalSequenceToken) Position() (int64, bool) { return t.Pos, true }

// Covers implements TrackingToken.
func (t GlobalSequenceToken) Covers(other TrackingToken) bool {
	switch o := other.(type) {
	case GlobalSequenceToken:
		return t.Pos >= o.Pos
	case *ReplayToken:
		return t.Covers(o.CurrentToken)
	default:
		pos, ok := other.Position()
		return ok && t.Pos >= pos
	}
}

func (t GlobalSequenceToken) String() string {
	return fmt.Sprintf("GlobalSequenceToken{%d}", t.Pos)
}

// ReplayToken wraps a token that is being replayed from an earlier
// position. CurrentToken advances as events are (re)delivered;
// ResetToken marks the position replay started from. Once the next
// token covers StartToken, the segment has caught back up and Advance
// returns the plain StartToken instead of a ReplayToken (see Advance).
type ReplayToken struct {
	// StartToken is the token that was active when the replay began
	// (the position replay will eventually catch back up to).
	StartToken TrackingToken

	// CurrentToken is the position currently being delivered, starting
	// at ResetToken and advancing toward StartToken and beyond.
	CurrentToken TrackingToken

	// ResetToken is the position the replay restarted from.
	ResetToken TrackingToken
}

// NewReplayToken creates a ReplayToken that replays from resetToken back
// up to startToken.
func NewReplayToken(startToken, resetToken TrackingToken) *ReplayToken {
	return &ReplayToken{
		StartToken:   startToken,
		CurrentToken: resetToken,
		ResetToken:   resetToken,
	}
}

// Position implements TrackingToken, delegating to CurrentToken.
func (t *ReplayToken) Position() (int64, bool) {
	if t == nil || t.CurrentToken == nil {
		return 0, false
	}
	return t.CurrentToken.Position()
}

// Covers implements TrackingToken, delegating to CurrentToken.
func (t *ReplayToken) Covers(other TrackingToken) bool {
	if t == nil || t.CurrentToken == nil {
		return false
	}
	return t.CurrentToken.Covers(other)
}

// Advance returns a new ReplayToken with CurrentToken set to next. If
// next already covers StartToken, replay is complete and Advance
// returns the plain StartToken instead of a ReplayToken, so callers can
// stop treating the segment as "replaying".
func (t *ReplayToken) Advance(next TrackingToken) TrackingToken {
	if t.StartToken != nil && next.Covers(t.StartToken) {
		return t.StartToken
	}
	return &ReplayToken{StartToken: t.StartToken, CurrentToken: next, ResetToken: t.ResetToken}
}

func (t *ReplayToken) String() string {
	return fmt.Sprintf("ReplayToken{current=%v, reset=%v, start=%v}", t.CurrentToken, t.ResetToken, t.StartToken)
}

// IsReplayToken reports whether tok is a (non-nil) *ReplayToken.
func IsReplayToken(tok TrackingToken) bool {
	rt, ok := tok.(*ReplayToken)
	return ok && rt != nil
}

// Segment identifies a partition of the event stream's hash space. The
// set of live segment IDs at any time forms a partition of the full
// space: Mask selects which bits of a sequencing identifier's hash are
// significant, and ID is the value those bits must equal for an event to
// route to this segment.
type Segment struct {
	ID   uint32
	Mask uint32
}

// NewSegment returns the single segment covering the whole hash space.
func NewSegment(id uint32) Segment {
	return Segment{ID: id, Mask: 0}
}

// Matches reports whether the hash of a sequencing identifier routes to
// this segment.
func (s Segment) Matches(hash uint32) bool {
	return hash&s.Mask == s.ID&s.Mask
}

// Split returns the two sibling segments produced by extending s's mask
// by one bit. The lower sibling keeps s.ID; the upper sibling sets the
// new bit.
func (s Segment) Split() (lower, upper Segment) {
	newBit := (s.Mask + 1) &^ s.Mask // lowest bit not yet in the mask
	if newBit == 0 {
		newBit = 1
	}
	newMask := s.Mask | newBit
	lower = Segment{ID: s.ID &^ newBit, Mask: newMask}
	upper = Segment{ID: (s.ID &^ newBit) | newBit, Mask: newMask}
	return lower, upper
}

// MergeTarget returns the segment produced by merging s with its sibling
// (the segment that differs from s in exactly the bit Split added, i.e.
// the highest set bit of Mask), and that sibling's ID. Merging always
// collapses to the lower of the two IDs.
func (s Segment) MergeTarget() (merged Segment, siblingID uint32, ok bool) {
	if s.Mask == 0 {
		return Segment{}, 0, false
	}
	highBit := s.Mask // highest set bit
	for highBit&(highBit-1) != 0 {
		highBit &= highBit - 1
	}
	newMask := s.Mask &^ highBit
	mergedID := s.ID &^ highBit
	sibling := s.ID ^ highBit
	return Segment{ID: mergedID, Mask: newMask}, sibling, true
}

func (s Segment) String() string {
	return fmt.Sprintf("Segment{id=%d, mask=%#x}", s.ID, s.Mask)
}

// TrackedEvent is a single event read from the upstream stream, tagged
// with its position and the identifier used to route it to a segment.
type TrackedEvent struct {
	Token TrackingToken

	// SequencingIdentifier determines which segment(s) this event routes
	// to. Events sharing an identifier are always routed to the same
	// segment and preserve relative order within it.
	SequencingIdentifier string

	PayloadType string
	Payload     any
}

// Claim is the durable lease record for one segment: which processor
// owns it, who (which process instance) holds it, and when it was last
// refreshed. A claim is valid while now-LastUpdated is under the store's
// claim timeout.
type Claim struct {
	ProcessorName string
	SegmentID     uint32
	OwnerID       string
	LastUpdated   time.Time
	Token         TrackingToken
}

// CoordinatorState enumerates the lifecycle states of the Coordinator's
// main loop.
type CoordinatorState int

const (
	CoordinatorNotStarted CoordinatorState = iota
	CoordinatorStarting
	CoordinatorRunning
	CoordinatorPausedError
	CoordinatorStopping
	CoordinatorStopped
)

func (s CoordinatorState) String() string {
	switch s {
	case CoordinatorNotStarted:
		return "NotStarted"
	case CoordinatorStarting:
		return "Starting"
	case CoordinatorRunning:
		return "Running"
	case CoordinatorPausedError:
		return "Paused-Error"
	case CoordinatorStopping:
		return "Stopping"
	case CoordinatorStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// WorkPackageState enumerates the lifecycle states of a single Work
// Package, per spec: Scheduled -> Running -> (Idle | Scheduled), with a
// terminal, irreversible Aborted state.
type WorkPackageState int

const (
	WorkPackageScheduled WorkPackageState = iota
	WorkPackageRunning
	WorkPackageIdle
	WorkPackageAborted
)

func (s WorkPackageState) String() string {
	switch s {
	case WorkPackageScheduled:
		return "Scheduled"
	case WorkPackageRunning:
		return "Running"
	case WorkPackageIdle:
		return "Idle"
	case WorkPackageAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// ProcessingStatus is an observable, eventually-consistent snapshot of a
// single segment's progress, returned by Processor.ProcessingStatus.
type ProcessingStatus struct {
	Segment         Segment
	CurrentPosition *int64
	TrackingToken   TrackingToken
	CaughtUp        bool
	Replaying       bool
	ErrorState      bool
	ErrorCount      int
}
