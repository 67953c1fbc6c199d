package invoker

import (
	"context"

	"github.com/pooledstream/psep"
)

// HandleFunc applies a single event within a segment.
type HandleFunc func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error

// Func adapts a single HandleFunc into an EventHandlerInvoker for
// callers that don't need payload-type routing. CanHandleType and
// CanHandle default to "true for everything" unless overridden.
type Func struct {
	Handler HandleFunc

	// CanHandleTypeFunc, when set, overrides the default "handle
	// everything" coarse filter.
	CanHandleTypeFunc func(payloadType string) bool

	// CanHandleFunc, when set, overrides the default "handle everything"
	// per-segment filter.
	CanHandleFunc func(event psep.TrackedEvent, segment psep.Segment) (bool, error)

	// ResetFunc, when set, is invoked by PerformReset and makes
	// SupportsReset report true.
	ResetFunc func(ctx context.Context, resetContext any) error
}

var _ EventHandlerInvoker = (*Func)(nil)

func (f *Func) CanHandleType(payloadType string) bool {
	if f.CanHandleTypeFunc != nil {
		return f.CanHandleTypeFunc(payloadType)
	}
	return true
}

func (f *Func) CanHandle(event psep.TrackedEvent, segment psep.Segment) (bool, error) {
	if f.CanHandleFunc != nil {
		return f.CanHandleFunc(event, segment)
	}
	return true, nil
}

func (f *Func) Handle(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
	return f.Handler(ctx, event, segment)
}

func (f *Func) SupportsReset() bool { return f.ResetFunc != nil }

func (f *Func) PerformReset(ctx context.Context, resetContext any) error {
	if f.ResetFunc == nil {
		return psep.ErrUnsupportedOperation
	}
	return f.ResetFunc(ctx, resetContext)
}
