// Package invoker defines the handler-invocation contract work packages
// call to apply events, plus two ready-made adapters for wiring a Go
// function or a payload-type routing table into that contract.
package invoker

import (
	"context"

	"github.com/pooledstream/psep"
)

// EventHandlerInvoker filters and applies events on behalf of one or
// more segments.
type EventHandlerInvoker interface {
	// CanHandleType is a coarse filter: when false for every payload
	// type an event might carry, the Coordinator may skip the event
	// entirely without routing it to any segment.
	CanHandleType(payloadType string) bool

	// CanHandle is a fine filter evaluated per segment.
	CanHandle(event psep.TrackedEvent, segment psep.Segment) (bool, error)

	// Handle applies event within segment. Returning an error aborts the
	// work package per the configured rollback policy.
	Handle(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error

	// SupportsReset reports whether PerformReset is meaningful for this
	// invoker.
	SupportsReset() bool

	// PerformReset is invoked from the façade's reset flow while the
	// processor is stopped. resetContext is passed through unexamined
	// from Processor.ResetTokens.
	PerformReset(ctx context.Context, resetContext any) error
}
