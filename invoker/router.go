package invoker

import (
	"context"
	"sync"

	"github.com/pooledstream/psep"
)

// Router dispatches events to a HandleFunc keyed by payload type,
// letting callers register one handler per event type instead of
// branching inside a single Func.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandleFunc
	resetFn  func(ctx context.Context, resetContext any) error
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandleFunc)}
}

var _ EventHandlerInvoker = (*Router)(nil)

// Register wires payloadType to fn, returning the Router for chaining.
func (r *Router) Register(payloadType string, fn HandleFunc) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[payloadType] = fn
	return r
}

// OnReset wires fn to be invoked by PerformReset, making SupportsReset
// report true.
func (r *Router) OnReset(fn func(ctx context.Context, resetContext any) error) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetFn = fn
	return r
}

func (r *Router) CanHandleType(payloadType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[payloadType]
	return ok
}

func (r *Router) CanHandle(event psep.TrackedEvent, segment psep.Segment) (bool, error) {
	return r.CanHandleType(event.PayloadType), nil
}

func (r *Router) Handle(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
	r.mu.RLock()
	fn, ok := r.handlers[event.PayloadType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return fn(ctx, event, segment)
}

func (r *Router) SupportsReset() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resetFn != nil
}

func (r *Router) PerformReset(ctx context.Context, resetContext any) error {
	r.mu.RLock()
	fn := r.resetFn
	r.mu.RUnlock()
	if fn == nil {
		return psep.ErrUnsupportedOperation
	}
	return fn(ctx, resetContext)
}
