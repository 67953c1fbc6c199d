// Package tokenstore defines the durable, per-segment claim-and-token
// storage contract PSEP uses for mutual exclusion across a fleet of
// processes and for persisting processing progress.
package tokenstore

import (
	"context"
	"errors"

	"github.com/pooledstream/psep"
)

var (
	// ErrUnableToClaim is returned when a claim/extend/store operation
	// fails because another process holds a valid claim, or the caller
	// is no longer the owner of record.
	ErrUnableToClaim = psep.ErrUnableToClaim

	// ErrUnableToInitialize is returned by InitializeTokenSegments when
	// segments already exist for the processor.
	ErrUnableToInitialize = psep.ErrUnableToInitialize

	// ErrStoreUnavailable is returned for transient infrastructure
	// failures (connection errors, timeouts).
	ErrStoreUnavailable = psep.ErrStoreUnavailable

	// ErrSegmentNotFound is returned when an operation targets a segment
	// that has no row in the store.
	ErrSegmentNotFound = errors.New("tokenstore: segment not found")
)

// TokenStore is the durable, CAS-guarded claim and progress store PSEP
// consumes. Implementations must make every method atomic with respect
// to concurrent callers, including callers in other processes.
type TokenStore interface {
	// InitializeTokenSegments creates segmentCount segment rows
	// (0..segmentCount-1, full mask set) for processor, each seeded with
	// initialToken and unclaimed. Idempotent at the whole-store level:
	// fails with ErrUnableToInitialize if any segment already exists for
	// processor.
	InitializeTokenSegments(ctx context.Context, processor string, segmentCount int, initialToken psep.TrackingToken) error

	// InitializeSegment creates a single new segment row for processor,
	// used by split to seed a freshly created sibling. Returns
	// psep.ErrUnsupportedOperation if RequiresExplicitSegmentInitialization
	// is false (such stores derive segments implicitly and don't need
	// this call).
	InitializeSegment(ctx context.Context, processor string, segment psep.Segment, initialToken psep.TrackingToken) error

	// DeleteSegment removes a segment's row entirely, used by merge to
	// retire the sibling being absorbed. Fails with ErrUnableToClaim if
	// ownerID does not hold a valid claim on the segment.
	DeleteSegment(ctx context.Context, processor string, segmentID uint32, ownerID string) error

	// FetchSegments returns the sorted set of segment IDs known to exist
	// for processor, claimed or not.
	FetchSegments(ctx context.Context, processor string) ([]uint32, error)

	// FetchToken returns the current token for segmentID and, as a side
	// effect, claims the segment for ownerID. Fails with
	// ErrUnableToClaim if another valid claim already exists.
	FetchToken(ctx context.Context, processor string, segmentID uint32, ownerID string) (psep.TrackingToken, error)

	// ExtendClaim refreshes the claim's LastUpdated timestamp. Fails
	// with ErrUnableToClaim if ownerID is no longer the owner of record.
	ExtendClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error

	// StoreToken persists token for segmentID. Fails with
	// ErrUnableToClaim if ownerID is no longer the owner of record.
	StoreToken(ctx context.Context, processor string, segmentID uint32, ownerID string, token psep.TrackingToken) error

	// ReleaseClaim best-effort releases ownerID's claim on segmentID.
	// Never blocks other operations and never returns an error for "not
	// owned" — releasing a claim you don't hold is a no-op.
	ReleaseClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error

	// RequiresExplicitSegmentInitialization reports whether this store
	// needs InitializeSegment/DeleteSegment calls to support split/merge
	// (true for stores that materialize one row per segment).
	RequiresExplicitSegmentInitialization() bool

	// RetrieveStorageIdentifier returns a stable identifier for this
	// store instance, used to key in-process caches. ok is false if the
	// store has no such identifier.
	RetrieveStorageIdentifier(ctx context.Context) (id string, ok bool, err error)
}
