// Package source defines the upstream event stream PSEP consumes: a
// position-seekable, blocking cursor over a totally-ordered event log.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/pooledstream/psep"
)

// ErrUnsupported is returned by token constructors a source cannot
// implement (e.g. a source with no wall-clock index for CreateTokenAt).
var ErrUnsupported = errors.New("source: operation not supported")

// Source opens blocking cursors over the upstream stream and constructs
// starting positions within it.
type Source interface {
	// OpenStream returns a cursor starting at fromToken's position. A nil
	// fromToken means "from the beginning of the stream".
	OpenStream(ctx context.Context, fromToken psep.TrackingToken) (BlockingStream, error)

	// CreateTailToken returns the token for "skip everything currently
	// in the stream, deliver only what arrives from now on".
	CreateTailToken(ctx context.Context) (psep.TrackingToken, error)

	// CreateHeadToken returns the token for "from the beginning".
	CreateHeadToken(ctx context.Context) (psep.TrackingToken, error)

	// CreateTokenAt returns the token positioned at the first event
	// published at or after at.
	CreateTokenAt(ctx context.Context, at time.Time) (psep.TrackingToken, error)

	// CreateTokenSince returns the token positioned d before now.
	CreateTokenSince(ctx context.Context, d time.Duration) (psep.TrackingToken, error)
}

// BlockingStream is a single-reader cursor over the upstream stream,
// returned by Source.OpenStream. Implementations must preserve per-event
// order and must be safe to close concurrently with a blocked
// NextAvailable/HasNextAvailable call.
type BlockingStream interface {
	// Peek returns the next undelivered event without consuming it. ok
	// is false if no event is currently available.
	Peek() (event psep.TrackedEvent, ok bool)

	// HasNextAvailable blocks up to timeout for an event to become
	// available, returning as soon as one does.
	HasNextAvailable(ctx context.Context, timeout time.Duration) bool

	// NextAvailable blocks until an event is available, then consumes
	// and returns it. Returns an error if the stream is closed or ctx is
	// done first.
	NextAvailable(ctx context.Context) (psep.TrackedEvent, error)

	// SkipMessagesWithPayloadTypeOf hints that future events sharing
	// event's payload type need not be delivered; the stream may elide
	// them from Peek/NextAvailable from this point on.
	SkipMessagesWithPayloadTypeOf(event psep.TrackedEvent)

	// SetOnAvailableCallback registers fn to be invoked (from an
	// arbitrary goroutine) whenever a new event becomes available.
	// Returns false if the source does not support push notification, in
	// which case the caller must poll via HasNextAvailable instead.
	SetOnAvailableCallback(fn func()) bool

	// Close releases resources held by the stream. Safe to call more
	// than once.
	Close() error
}
