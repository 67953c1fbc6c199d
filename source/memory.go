package source

import (
	"context"
	"sync"
	"time"

	"github.com/pooledstream/psep"
)

// MemorySource is an in-memory, append-only event log, useful for tests
// and single-process demos. It is generalized from a Java in-memory test
// double into a Go source that supports both push notification and
// plain polling, selected via NewMemorySource's pushCapable argument.
type MemorySource struct {
	mu          sync.Mutex
	events      []psep.TrackedEvent
	publishedAt []time.Time
	callbacks   []func()

	pushCapable bool
}

// NewMemorySource creates an empty MemorySource. When pushCapable is
// true, streams opened against it support SetOnAvailableCallback;
// otherwise SetOnAvailableCallback always returns false and callers must
// poll via HasNextAvailable, exercising the Coordinator's polling
// fallback path.
func NewMemorySource(pushCapable bool) *MemorySource {
	return &MemorySource{pushCapable: pushCapable}
}

var _ Source = (*MemorySource)(nil)

// Publish appends a new event to the log and returns the token at which
// it was stored. sequencingIdentifier determines which segment(s) will
// receive the event.
func (s *MemorySource) Publish(sequencingIdentifier, payloadType string, payload any) psep.TrackingToken {
	s.mu.Lock()
	pos := int64(len(s.events))
	token := psep.NewGlobalSequenceToken(pos)
	s.events = append(s.events, psep.TrackedEvent{
		Token:                token,
		SequencingIdentifier: sequencingIdentifier,
		PayloadType:          payloadType,
		Payload:              payload,
	})
	s.publishedAt = append(s.publishedAt, time.Now())
	callbacks := append([]func(){}, s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return token
}

func (s *MemorySource) length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events))
}

func (s *MemorySource) at(i int64) (psep.TrackedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= int64(len(s.events)) {
		return psep.TrackedEvent{}, false
	}
	return s.events[i], true
}

func (s *MemorySource) registerCallback(fn func()) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

func (s *MemorySource) OpenStream(ctx context.Context, fromToken psep.TrackingToken) (BlockingStream, error) {
	var start int64
	if fromToken != nil {
		if pos, ok := fromToken.Position(); ok {
			start = pos
		}
	}
	return &memoryStream{source: s, next: start}, nil
}

func (s *MemorySource) CreateTailToken(ctx context.Context) (psep.TrackingToken, error) {
	return psep.NewGlobalSequenceToken(s.length()), nil
}

func (s *MemorySource) CreateHeadToken(ctx context.Context) (psep.TrackingToken, error) {
	return psep.NewGlobalSequenceToken(0), nil
}

func (s *MemorySource) CreateTokenAt(ctx context.Context, at time.Time) (psep.TrackingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ts := range s.publishedAt {
		if !ts.Before(at) {
			return psep.NewGlobalSequenceToken(int64(i)), nil
		}
	}
	return psep.NewGlobalSequenceToken(int64(len(s.events))), nil
}

func (s *MemorySource) CreateTokenSince(ctx context.Context, d time.Duration) (psep.TrackingToken, error) {
	return s.CreateTokenAt(ctx, time.Now().Add(-d))
}

// memoryStream is a single-reader cursor into a MemorySource's log.
type memoryStream struct {
	source *MemorySource

	mu        sync.Mutex
	next      int64
	skipTypes map[string]bool
	closed    bool
}

var _ BlockingStream = (*memoryStream)(nil)

// advanceLocked skips past any event whose payload type has been
// flagged via SkipMessagesWithPayloadTypeOf and returns the index of the
// next deliverable event, or -1 if none is currently available. Callers
// must hold m.mu.
func (m *memoryStream) advanceLocked() int64 {
	for {
		e, ok := m.source.at(m.next)
		if !ok {
			return -1
		}
		if m.skipTypes[e.PayloadType] {
			m.next++
			continue
		}
		return m.next
	}
}

func (m *memoryStream) Peek() (psep.TrackedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.advanceLocked()
	if idx < 0 {
		return psep.TrackedEvent{}, false
	}
	e, _ := m.source.at(idx)
	return e, true
}

func (m *memoryStream) HasNextAvailable(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		idx := m.advanceLocked()
		closed := m.closed
		m.mu.Unlock()

		if idx >= 0 {
			return true
		}
		if closed || timeout <= 0 || !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// pollInterval bounds how often HasNextAvailable/NextAvailable re-check
// the log in the absence of a push notification.
const pollInterval = 5 * time.Millisecond

func (m *memoryStream) NextAvailable(ctx context.Context) (psep.TrackedEvent, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return psep.TrackedEvent{}, psep.ErrStreamUnavailable
		}
		idx := m.advanceLocked()
		if idx >= 0 {
			m.next = idx + 1
			m.mu.Unlock()
			e, _ := m.source.at(idx)
			return e, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return psep.TrackedEvent{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *memoryStream) SkipMessagesWithPayloadTypeOf(event psep.TrackedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipTypes == nil {
		m.skipTypes = make(map[string]bool)
	}
	m.skipTypes[event.PayloadType] = true
}

func (m *memoryStream) SetOnAvailableCallback(fn func()) bool {
	if !m.source.pushCapable {
		return false
	}
	m.source.registerCallback(fn)
	return true
}

func (m *memoryStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
