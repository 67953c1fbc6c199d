package psep

import "errors"

var (
	// ErrConfiguration indicates a Processor was built with an invalid or
	// missing required option. Fatal at build time.
	ErrConfiguration = errors.New("psep: invalid configuration")

	// ErrClaimLost indicates a segment's claim could not be extended or
	// stored because this process no longer owns it. The owning work
	// package aborts.
	ErrClaimLost = errors.New("psep: claim lost")

	// ErrUnableToClaim indicates a segment could not be claimed because
	// another valid claim already exists for it.
	ErrUnableToClaim = errors.New("psep: unable to claim segment")

	// ErrUnableToInitialize indicates a token store's segments for a
	// processor could not be initialized, typically because segments
	// already exist.
	ErrUnableToInitialize = errors.New("psep: unable to initialize segments")

	// ErrStoreUnavailable indicates a transient failure of the token
	// store. The Coordinator pauses with exponential backoff.
	ErrStoreUnavailable = errors.New("psep: token store unavailable")

	// ErrStreamUnavailable indicates a transient failure opening or
	// reading the upstream message source.
	ErrStreamUnavailable = errors.New("psep: message source unavailable")

	// ErrUnsupportedOperation indicates the token store or event handler
	// invoker does not support the requested operation (explicit segment
	// initialization for split/merge, or reset).
	ErrUnsupportedOperation = errors.New("psep: operation not supported")

	// ErrIllegalState indicates an operation was requested while the
	// Processor or a component was in a state that forbids it (e.g.
	// Start while ShuttingDown, ResetTokens while Running).
	ErrIllegalState = errors.New("psep: illegal state")

	// ErrSegmentNotOwned indicates a control task (split, merge,
	// release) targeted a segment this process does not currently own.
	ErrSegmentNotOwned = errors.New("psep: segment not owned")
)
