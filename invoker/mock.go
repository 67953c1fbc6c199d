package invoker

import (
	"context"
	"sync"

	"github.com/pooledstream/psep"
)

// Mock is a configurable EventHandlerInvoker for tests: set the *Func
// fields to control behavior, inspect HandleCalls to assert on what was
// delivered.
type Mock struct {
	mu sync.Mutex

	CanHandleTypeFunc func(payloadType string) bool
	CanHandleFunc     func(event psep.TrackedEvent, segment psep.Segment) (bool, error)
	HandleFunc        func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error
	SupportsResetFunc func() bool
	PerformResetFunc  func(ctx context.Context, resetContext any) error

	HandleCalls []HandleCall
}

// HandleCall records the parameters of a single Handle call.
type HandleCall struct {
	Event   psep.TrackedEvent
	Segment psep.Segment
}

// NewMock returns a Mock that handles everything and applies no-op
// handling unless overridden.
func NewMock() *Mock { return &Mock{} }

var _ EventHandlerInvoker = (*Mock)(nil)

func (m *Mock) CanHandleType(payloadType string) bool {
	if m.CanHandleTypeFunc != nil {
		return m.CanHandleTypeFunc(payloadType)
	}
	return true
}

func (m *Mock) CanHandle(event psep.TrackedEvent, segment psep.Segment) (bool, error) {
	if m.CanHandleFunc != nil {
		return m.CanHandleFunc(event, segment)
	}
	return true, nil
}

func (m *Mock) Handle(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
	m.mu.Lock()
	m.HandleCalls = append(m.HandleCalls, HandleCall{Event: event, Segment: segment})
	m.mu.Unlock()

	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, event, segment)
	}
	return nil
}

func (m *Mock) SupportsReset() bool {
	if m.SupportsResetFunc != nil {
		return m.SupportsResetFunc()
	}
	return false
}

func (m *Mock) PerformReset(ctx context.Context, resetContext any) error {
	if m.PerformResetFunc != nil {
		return m.PerformResetFunc(ctx, resetContext)
	}
	return psep.ErrUnsupportedOperation
}

// Reset clears the call history.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandleCalls = nil
}

// CallCount returns the number of Handle calls recorded so far.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.HandleCalls)
}
